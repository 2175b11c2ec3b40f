package proxy

import (
	"sync"
	"time"

	"github.com/Loopxo/khoj/internal/antibot"
	"github.com/Loopxo/khoj/pkg/models"
)

// DefaultCooldown is how long a failed proxy is skipped by rotation
const DefaultCooldown = 5 * time.Minute

// Health remembers proxies that recently failed so rotation can avoid them
type Health struct {
	mu       sync.Mutex
	failed   map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewHealth creates a tracker; cooldown <= 0 uses DefaultCooldown
func NewHealth(cooldown time.Duration) *Health {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Health{
		failed:   make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Pick chooses a proxy for cfg. Rotation draws only from healthy providers
// unless every provider is cooling down; without rotation the first provider
// is always used.
func (h *Health) Pick(cfg *models.ProxyConfig) string {
	if !cfg.Active() || !cfg.Rotation {
		return antibot.PickProxy(cfg)
	}

	healthy := h.healthy(cfg.Providers)
	if len(healthy) == 0 {
		return antibot.PickProxy(cfg)
	}
	return antibot.PickProxy(&models.ProxyConfig{Enabled: true, Rotation: true, Providers: healthy})
}

func (h *Health) healthy(providers []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(providers))
	for _, p := range providers {
		if failTime, ok := h.failed[p]; ok {
			if h.now().Sub(failTime) < h.cooldown {
				continue
			}
			// Failure expired
			delete(h.failed, p)
		}
		out = append(out, p)
	}
	return out
}

// MarkFailed marks a proxy as failed so it will be skipped for a while
func (h *Health) MarkFailed(proxy string) {
	if proxy == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed[proxy] = h.now()
}

// MarkHealthy clears the failure status of a proxy
func (h *Health) MarkHealthy(proxy string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failed, proxy)
}

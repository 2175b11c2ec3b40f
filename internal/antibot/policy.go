// Package antibot computes the per-request evasion settings shared by every fetch strategy.
package antibot

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/Loopxo/khoj/pkg/models"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// DefaultUserAgents returns a copy of the built-in desktop pool
func DefaultUserAgents() []string {
	return append([]string(nil), defaultUserAgents...)
}

// PickUserAgent returns a random configured user agent, or one from the built-in pool.
// Blank entries are ignored; the result is never empty.
func PickUserAgent(configured []string) string {
	return pickUserAgent(configured, nil)
}

// pickUserAgent tries configured, then fallback, then the built-in pool
func pickUserAgent(configured, fallback []string) string {
	pool := nonBlank(configured)
	if len(pool) == 0 {
		pool = nonBlank(fallback)
	}
	if len(pool) == 0 {
		pool = defaultUserAgents
	}
	return pool[rand.IntN(len(pool))]
}

func nonBlank(uas []string) []string {
	out := make([]string, 0, len(uas))
	for _, ua := range uas {
		if ua != "" {
			out = append(out, ua)
		}
	}
	return out
}

// ComputeDelay returns a uniform random delay in [min, max] milliseconds, or 0 without a range
func ComputeDelay(r *models.DelayRange) time.Duration {
	if r == nil || r.Max <= 0 || r.Max < r.Min {
		return 0
	}
	lo := max(r.Min, 0)
	ms := lo + rand.IntN(r.Max-lo+1)
	return time.Duration(ms) * time.Millisecond
}

// PickProxy returns "" when proxies are disabled or none are listed.
// With rotation the choice is uniform; otherwise the first provider wins.
func PickProxy(cfg *models.ProxyConfig) string {
	if !cfg.Active() {
		return ""
	}
	if cfg.Rotation {
		return cfg.Providers[rand.IntN(len(cfg.Providers))]
	}
	return cfg.Providers[0]
}

// Settings is the resolved policy for one fetch
type Settings struct {
	UserAgent string
	Proxy     string
	Delay     time.Duration
	Cookies   map[string]string
}

// Resolve computes the settings for a single fetch attempt. fallbackUAs is
// the service-level pool used when the request lists no user agents; the
// built-in pool applies when both are empty.
func Resolve(opts models.ExtractionOptions, pickProxy func(*models.ProxyConfig) string, fallbackUAs []string) Settings {
	if pickProxy == nil {
		pickProxy = PickProxy
	}
	var s Settings
	var uas []string
	if ab := opts.AntiBot; ab != nil {
		uas = ab.UserAgents
		s.Delay = ComputeDelay(ab.Delay)
		s.Cookies = ab.Cookies
	}
	s.UserAgent = pickUserAgent(uas, fallbackUAs)
	s.Proxy = pickProxy(opts.Proxy)
	return s
}

// HTTPCookies converts configured cookies into cookies scoped to target
func HTTPCookies(target *url.URL, cookies map[string]string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		out = append(out, &http.Cookie{
			Name:   name,
			Value:  value,
			Domain: target.Hostname(),
			Path:   "/",
		})
	}
	return out
}

// Sleep waits for d, returning early with ctx's error if it is cancelled
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

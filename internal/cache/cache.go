// Package cache keeps finished extraction results in memory.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/Loopxo/khoj/pkg/models"
	"github.com/rs/zerolog/log"
)

// Cache stores finished extraction results by request key.
type Cache interface {
	// Get returns a copy of a cached result.
	Get(key string) (*models.ExtractionResult, bool)

	// Set stores a result for ttl, evicting least recently used entries as needed.
	Set(key string, result *models.ExtractionResult, ttl time.Duration) error

	// Delete removes a cached result. Missing keys are not an error.
	Delete(key string) error

	Clear() error

	Stats() Stats

	// Close stops background cleanup.
	Close()
}

type cacheEntry struct {
	Result    *models.ExtractionResult
	ExpiresAt time.Time
	Key       string
	Size      int64
}

// MemoryCache is an in-memory LRU bounded by an approximate byte size
type MemoryCache struct {
	store   map[string]*list.Element
	lruList *list.List
	mu      sync.Mutex
	maxSize int64
	size    int64
	ctx     context.Context
	cancel  context.CancelFunc
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewMemoryCache creates a new in-memory cache with LRU eviction
func NewMemoryCache(maxSizeBytes int64) *MemoryCache {
	if maxSizeBytes <= 0 {
		maxSizeBytes = 64 * 1024 * 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemoryCache{
		store:   make(map[string]*list.Element),
		lruList: list.New(),
		maxSize: maxSizeBytes,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}

	go mc.cleanupExpired()

	return mc
}

// Get retrieves a cached result and marks it recently used
func (mc *MemoryCache) Get(key string) (*models.ExtractionResult, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	element, exists := mc.store[key]
	if !exists {
		mc.misses++
		return nil, false
	}

	entry := element.Value.(*cacheEntry)
	if mc.now().After(entry.ExpiresAt) {
		mc.misses++
		mc.removeElement(element)
		return nil, false
	}

	mc.lruList.MoveToFront(element)
	mc.hits++

	log.Debug().Str("key", key).Msg("Cache hit")
	return Clone(entry.Result), true
}

// Set stores a result with TTL
func (mc *MemoryCache) Set(key string, result *models.ExtractionResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := estimateSize(result)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if element, exists := mc.store[key]; exists {
		mc.removeElement(element)
	}

	for mc.size+size > mc.maxSize && mc.lruList.Len() > 0 {
		mc.evictLRU()
	}

	entry := &cacheEntry{
		Result:    Clone(result),
		ExpiresAt: mc.now().Add(ttl),
		Key:       key,
		Size:      size,
	}
	mc.store[key] = mc.lruList.PushFront(entry)
	mc.size += size

	log.Debug().
		Str("key", key).
		Dur("ttl", ttl).
		Int64("size_bytes", size).
		Msg("Cached result")

	return nil
}

// Delete removes a cached result
func (mc *MemoryCache) Delete(key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if element, exists := mc.store[key]; exists {
		mc.removeElement(element)
	}
	return nil
}

// Clear removes all cached results
func (mc *MemoryCache) Clear() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.store = make(map[string]*list.Element)
	mc.lruList = list.New()
	mc.size = 0
	mc.hits = 0
	mc.misses = 0
	return nil
}

// Close stops the background cleanup goroutine
func (mc *MemoryCache) Close() {
	mc.cancel()
}

// removeElement must be called with the lock held
func (mc *MemoryCache) removeElement(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	mc.lruList.Remove(element)
	delete(mc.store, entry.Key)
	mc.size -= entry.Size
}

// evictLRU must be called with the lock held
func (mc *MemoryCache) evictLRU() {
	element := mc.lruList.Back()
	if element == nil {
		return
	}
	log.Debug().Str("key", element.Value.(*cacheEntry).Key).Msg("Evicted from cache (LRU)")
	mc.removeElement(element)
}

func (mc *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.mu.Lock()
			now := mc.now()
			var next *list.Element
			for element := mc.lruList.Front(); element != nil; element = next {
				next = element.Next()
				if now.After(element.Value.(*cacheEntry).ExpiresAt) {
					mc.removeElement(element)
				}
			}
			mc.mu.Unlock()
		case <-mc.ctx.Done():
			return
		}
	}
}

// Stats is a snapshot of cache usage
type Stats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hitRate"`
}

// Stats reports entry count, size and hit rate (as a percentage)
func (mc *MemoryCache) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	st := Stats{
		Entries:   mc.lruList.Len(),
		SizeBytes: mc.size,
		MaxBytes:  mc.maxSize,
		Hits:      mc.hits,
		Misses:    mc.misses,
	}
	if total := mc.hits + mc.misses; total > 0 {
		st.HitRate = float64(mc.hits) / float64(total) * 100
	}
	return st
}

func estimateSize(r *models.ExtractionResult) int64 {
	size := int64(512 + len(r.Metadata.ScreenshotBase64))
	for _, rec := range r.Records {
		for k, v := range rec {
			size += int64(len(k) + len(v) + 16)
		}
	}
	return size
}

// Clone copies a result deeply enough that records can be changed
// without affecting the original
func Clone(r *models.ExtractionResult) *models.ExtractionResult {
	if r == nil {
		return nil
	}
	out := &models.ExtractionResult{Metadata: r.Metadata}
	if r.Records != nil {
		out.Records = make([]models.Record, len(r.Records))
		for i, rec := range r.Records {
			cp := make(models.Record, len(rec))
			for k, v := range rec {
				cp[k] = v
			}
			out.Records[i] = cp
		}
	}
	return out
}

// Key derives a cache key from everything that can change a result.
// Cookies and proxies are part of it: a logged-in or geo-routed caller can
// see a different page. User agents and delays are not.
func Key(req *models.ExtractionRequest) string {
	var (
		cookies map[string]string
		proxies []string
	)
	if req.Options.AntiBot != nil {
		cookies = req.Options.AntiBot.Cookies
	}
	if req.Options.Proxy.Active() {
		proxies = req.Options.Proxy.Providers
	}
	b, _ := json.Marshal(struct {
		URL        string              `json:"url"`
		Selectors  models.SelectorSpec `json:"selectors"`
		Engine     models.Engine       `json:"engine"`
		Screenshot bool                `json:"screenshot"`
		Cookies    map[string]string   `json:"cookies,omitempty"`
		Proxies    []string            `json:"proxies,omitempty"`
	}{req.URL, req.Selectors, req.Options.Engine, req.Options.Screenshot, cookies, proxies})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

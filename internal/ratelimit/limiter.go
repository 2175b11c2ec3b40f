// Package ratelimit spaces out requests to the same host.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter blocks until a request to rawURL may go out
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// DomainLimiter keeps one token bucket per hostname
type DomainLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
}

// NewDomainLimiter allows rps requests per second per host with the given burst.
// Non-positive values fall back to 5 rps and a burst of 10.
func NewDomainLimiter(rps float64, burst int) *DomainLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &DomainLimiter{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Limit(rps),
		burst:   burst,
	}
}

// Wait takes a token from rawURL's host bucket. URLs without a host pass
// through; validation rejects them before any fetch.
func (dl *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	if host == "" {
		return ctx.Err()
	}
	return dl.bucket(host).Wait(ctx)
}

func (dl *DomainLimiter) bucket(host string) *rate.Limiter {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	b, ok := dl.buckets[host]
	if !ok {
		b = rate.NewLimiter(dl.every, dl.burst)
		dl.buckets[host] = b
	}
	return b
}

// Hosts returns the number of hosts seen so far
func (dl *DomainLimiter) Hosts() int {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return len(dl.buckets)
}

// Unlimited never waits
type Unlimited struct{}

// Wait returns immediately unless ctx is already done
func (Unlimited) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}

// hostKey lowercases the hostname and drops the port, so
// Shop.test:443 and shop.test share a bucket.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Package pool keeps live browser processes keyed by configuration fingerprint.
package pool

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Fingerprint summarizes the settings that decide whether a browser process can be shared
type Fingerprint struct {
	Engine       models.Engine `json:"engine"`
	ProxyEnabled bool          `json:"proxyEnabled"`
	Stealth      bool          `json:"stealth"`
}

// FingerprintFor derives the fingerprint of a request routed to engine
func FingerprintFor(e models.Engine, opts models.ExtractionOptions) Fingerprint {
	fp := Fingerprint{Engine: e}
	if opts.Proxy != nil {
		fp.ProxyEnabled = opts.Proxy.Enabled
	}
	if opts.AntiBot != nil {
		fp.Stealth = opts.AntiBot.Stealth
	}
	return fp
}

// Key returns a short deterministic hash of the fingerprint
func (f Fingerprint) Key() string {
	b, _ := json.Marshal(f)
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Process is a pooled browser process
type Process interface {
	Close() error
}

// LaunchFunc starts a new process for a fingerprint
type LaunchFunc[P Process] func(ctx context.Context, fp Fingerprint) (P, error)

// Pool lazily launches one process per fingerprint and reuses it.
// Concurrent misses on the same fingerprint share a single launch; misses on
// different fingerprints launch independently.
type Pool[P Process] struct {
	name   string
	launch LaunchFunc[P]
	group  singleflight.Group
	mu     sync.Mutex
	procs  map[string]P
	closed bool
}

// New creates an empty pool
func New[P Process](name string, launch LaunchFunc[P]) *Pool[P] {
	return &Pool[P]{
		name:   name,
		launch: launch,
		procs:  make(map[string]P),
	}
}

func (p *Pool[P]) lookup(key string) (P, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero P
	if p.closed {
		return zero, false, engine.ErrPoolClosed
	}
	proc, ok := p.procs[key]
	return proc, ok, nil
}

// Acquire returns the process for fp, launching it on a miss. A failed
// launch leaves no entry behind, so the next call tries a fresh launch.
func (p *Pool[P]) Acquire(ctx context.Context, fp Fingerprint) (P, error) {
	var zero P
	key := fp.Key()

	if proc, ok, err := p.lookup(key); err != nil {
		closed := engine.PoolFailure("browser pool unavailable", err)
		closed.Retry = false
		return zero, closed
	} else if ok {
		return proc, nil
	}

	// The launched process outlives the request that triggered it.
	launchCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (interface{}, error) {
		if proc, ok, err := p.lookup(key); err != nil {
			return nil, err
		} else if ok {
			return proc, nil
		}

		log.Debug().Str("pool", p.name).Str("fingerprint", key).Str("engine", string(fp.Engine)).Msg("Launching browser process")
		proc, err := p.launch(launchCtx, fp)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = proc.Close()
			return nil, engine.ErrPoolClosed
		}
		p.procs[key] = proc
		n := len(p.procs)
		p.mu.Unlock()

		log.Info().Str("pool", p.name).Str("fingerprint", key).Int("processes", n).Msg("Browser process ready")
		return proc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("pool", p.name).Str("fingerprint", key).Msg("Browser launch failed")
			return zero, engine.PoolFailure("failed to launch browser", res.Err).WithDetail("fingerprint", key)
		}
		return res.Val.(P), nil
	case <-ctx.Done():
		return zero, engine.PoolFailure("gave up waiting for browser launch", ctx.Err())
	}
}

// Invalidate drops and closes the process for fp, for example after it crashed
func (p *Pool[P]) Invalidate(fp Fingerprint) {
	key := fp.Key()
	p.mu.Lock()
	proc, ok := p.procs[key]
	delete(p.procs, key)
	p.mu.Unlock()

	if ok {
		if err := proc.Close(); err != nil {
			log.Debug().Err(err).Str("pool", p.name).Msg("Error closing invalidated browser")
		}
		log.Warn().Str("pool", p.name).Str("fingerprint", key).Msg("Browser process invalidated")
	}
}

// ShutdownAll closes every pooled process; the pool rejects later acquisitions
func (p *Pool[P]) ShutdownAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	procs := p.procs
	p.procs = make(map[string]P)
	p.mu.Unlock()

	var errs []error
	for key, proc := range procs {
		if err := proc.Close(); err != nil {
			errs = append(errs, err)
			log.Warn().Err(err).Str("pool", p.name).Str("fingerprint", key).Msg("Error closing browser process")
		}
	}
	log.Info().Str("pool", p.name).Int("closed", len(procs)).Msg("Browser pool closed")
	return errors.Join(errs...)
}

// Len returns the number of live pooled processes
func (p *Pool[P]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

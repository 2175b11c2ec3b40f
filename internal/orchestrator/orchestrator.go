// Package orchestrator runs one extraction end to end: validation, the
// retry loop around the engine cascade, and result metadata.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Loopxo/khoj/internal/cache"
	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/extract"
	"github.com/Loopxo/khoj/internal/reqctx"
	"github.com/Loopxo/khoj/internal/retry"
	urlutil "github.com/Loopxo/khoj/internal/utils/url"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/rs/zerolog/log"
)

// ProcessPool is a pool of browser processes owned by the orchestrator
type ProcessPool interface {
	ShutdownAll() error
	Len() int
}

// Config wires the orchestrator's collaborators
type Config struct {
	Cascade  *engine.Cascade
	Retry    *retry.Controller
	Cache    cache.Cache // nil disables caching
	CacheTTL time.Duration
	Pools    []ProcessPool
}

// Orchestrator is safe for concurrent use
type Orchestrator struct {
	cascade  *engine.Cascade
	retry    *retry.Controller
	cache    cache.Cache
	cacheTTL time.Duration
	pools    []ProcessPool

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an orchestrator
func New(cfg Config) *Orchestrator {
	if cfg.Retry == nil {
		cfg.Retry = retry.New(retry.DefaultConfig())
	}
	return &Orchestrator{
		cascade:  cfg.Cascade,
		retry:    cfg.Retry,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		pools:    cfg.Pools,
	}
}

// Extract fetches rawURL and applies spec to it
func (o *Orchestrator) Extract(ctx context.Context, rawURL string, spec models.SelectorSpec, opts models.ExtractionOptions) (*models.ExtractionResult, error) {
	return o.Run(ctx, &models.ExtractionRequest{URL: rawURL, Selectors: spec, Options: opts})
}

// Run executes a prepared request. Either a complete result or an error is returned.
func (o *Orchestrator) Run(ctx context.Context, req *models.ExtractionRequest) (*models.ExtractionResult, error) {
	start := time.Now()
	ctx = reqctx.WithRequestContext(ctx)
	rc := reqctx.GetRequestContext(ctx)

	if o.closed.Load() {
		return nil, reqctx.NewRequestError(ctx, engine.ValidationError("orchestrator is shut down", engine.ErrPoolClosed))
	}

	// Work on a copy so the caller's request stays untouched.
	r := *req
	if err := Validate(&r); err != nil {
		return nil, reqctx.NewRequestError(ctx, err)
	}

	plan, err := extract.Compile(r.Selectors)
	if err != nil {
		failure := engine.ExtractionFailure("invalid selector", err)
		failure.Retry = false
		return nil, reqctx.NewRequestError(ctx, failure)
	}

	var cacheKey string
	if o.cache != nil {
		cacheKey = cache.Key(&r)
		if cached, ok := o.cache.Get(cacheKey); ok {
			log.Debug().Str("request_id", rc.RequestID).Str("url", r.URL).Msg("Serving cached result")
			cached.Metadata.ExecutionTimeMs = time.Since(start).Milliseconds()
			cached.Metadata.RetryCount = 0
			cached.Metadata.ErrorCount = 0
			return cached, nil
		}
	}

	log.Info().
		Str("request_id", rc.RequestID).
		Str("url", r.URL).
		Str("engine", string(r.Options.Engine)).
		Int("max_retries", r.Options.Retries()).
		Msg("Starting extraction")

	var (
		out      *engine.Outcome
		failures int
	)
	retries, err := o.retry.Do(ctx, r.Options.Retries(), func(ctx context.Context, attempt int) error {
		res, err := o.cascade.Run(ctx, &r, plan)
		if err != nil {
			failures++
			log.Debug().
				Str("request_id", rc.RequestID).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Extraction attempt failed")
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		log.Error().
			Str("request_id", rc.RequestID).
			Str("url", r.URL).
			Str("code", string(engine.CodeOf(err))).
			Int("attempts", failures).
			Dur("elapsed", rc.Elapsed()).
			Err(err).
			Msg("Extraction failed")
		return nil, reqctx.NewRequestError(ctx, err)
	}

	result := &models.ExtractionResult{
		Records: out.Records,
		Metadata: models.ResultMetadata{
			ItemsExtracted:  len(out.Records),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			EngineUsed:      string(out.Engine),
			ErrorCount:      failures,
			RetryCount:      retries,
		},
	}
	if out.Page != nil && len(out.Page.Screenshot) > 0 {
		result.Metadata.ScreenshotBase64 = base64.StdEncoding.EncodeToString(out.Page.Screenshot)
	}

	if o.cache != nil {
		if err := o.cache.Set(cacheKey, result, o.cacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache result")
		}
	}

	log.Info().
		Str("request_id", rc.RequestID).
		Str("url", r.URL).
		Str("engine_used", result.Metadata.EngineUsed).
		Int("items", result.Metadata.ItemsExtracted).
		Int("retries", retries).
		Int64("execution_time_ms", result.Metadata.ExecutionTimeMs).
		Msg("Extraction completed")

	return result, nil
}

// Validate normalizes req in place and rejects anything malformed with a VALIDATION error
func Validate(req *models.ExtractionRequest) error {
	if err := urlutil.ValidateURL(req.URL); err != nil {
		return engine.ValidationError("invalid URL", err).WithDetail("url", req.URL)
	}
	if err := req.Selectors.Validate(); err != nil {
		return engine.ValidationError("invalid selector spec", err)
	}
	if err := req.Options.Normalize(); err != nil {
		return engine.ValidationError("invalid options", err)
	}
	return nil
}

// PooledProcesses returns the number of live browser processes across pools
func (o *Orchestrator) PooledProcesses() int {
	n := 0
	for _, p := range o.pools {
		n += p.Len()
	}
	return n
}

// ShutdownAll closes every pooled browser process. Later extractions fail.
func (o *Orchestrator) ShutdownAll() error {
	o.shutdownOnce.Do(func() {
		o.closed.Store(true)
		var errs []error
		for _, p := range o.pools {
			if err := p.ShutdownAll(); err != nil {
				errs = append(errs, err)
			}
		}
		o.shutdownErr = errors.Join(errs...)
		log.Info().Msg("Orchestrator shut down")
	})
	return o.shutdownErr
}

// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Loopxo/khoj/internal/batch"
	"github.com/Loopxo/khoj/internal/cache"
	"github.com/Loopxo/khoj/internal/config"
	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/engine/dynamic"
	"github.com/Loopxo/khoj/internal/engine/pool"
	"github.com/Loopxo/khoj/internal/engine/static"
	"github.com/Loopxo/khoj/internal/engine/stealth"
	"github.com/Loopxo/khoj/internal/events"
	"github.com/Loopxo/khoj/internal/jobs"
	"github.com/Loopxo/khoj/internal/orchestrator"
	"github.com/Loopxo/khoj/internal/proxy"
	"github.com/Loopxo/khoj/internal/ratelimit"
	"github.com/Loopxo/khoj/internal/retry"
)

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once at startup and shared across all CLI commands.
// Use Close() to ensure proper resource cleanup on shutdown.
type Application struct {
	Config       *config.Config
	Logger       *zerolog.Logger
	Cache        cache.Cache
	Proxies      *proxy.Health
	Browsers     *pool.Pool[*dynamic.Browser]
	Stealth      *pool.Pool[*stealth.Browser]
	HTTP         *static.Scraper
	Cascade      *engine.Cascade
	Orchestrator *orchestrator.Orchestrator
	Events       events.Sink
	Jobs         *jobs.Registry

	logFile   io.Closer
	startTime time.Time
}

// New creates and initializes a new Application with all dependencies.
//
// Browser processes are not started here. The pools launch them on the
// first browser fetch for a given fingerprint.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger, logFile := newLogger(cfg)
	logger.Debug().
		Str("level", cfg.Log.Level).
		Bool("json", cfg.Log.JSON).
		Str("config_file", cfg.File).
		Msg("Logger initialized")

	proxies := proxy.NewHealth(cfg.Proxy.Cooldown)
	staticLimiter := ratelimit.NewDomainLimiter(cfg.RateLimit.StaticRPS, cfg.RateLimit.StaticBurst)
	browserLimiter := ratelimit.NewDomainLimiter(cfg.RateLimit.DynamicRPS, cfg.RateLimit.DynamicBurst)

	chromePath := dynamic.FindChrome(cfg.Browser.ChromePath)
	if chromePath == "" {
		logger.Warn().Msg("No Chrome executable found; browser engines will fail until one is installed")
	}

	browsers := pool.New("browser", dynamic.Launcher(dynamic.LaunchOptions{
		ChromePath: chromePath,
		Headless:   cfg.Browser.Headless,
	}))
	stealthBrowsers := pool.New("stealth", stealth.Launcher(stealth.LaunchOptions{
		ChromePath: chromePath,
	}))

	httpScraper := static.New(static.Options{
		Limiter:    staticLimiter,
		Proxies:    proxies,
		Timeout:    cfg.HTTP.Timeout,
		ChromeTLS:  cfg.HTTP.ChromeTLS,
		UserAgents: cfg.UserAgents,
	})
	browserScraper := dynamic.New(dynamic.Options{
		Pool:       browsers,
		Limiter:    browserLimiter,
		Proxies:    proxies,
		Timeout:    cfg.Browser.Timeout,
		UserAgents: cfg.UserAgents,
	})
	stealthScraper := stealth.New(stealth.Options{
		Pool:       stealthBrowsers,
		Limiter:    browserLimiter,
		Proxies:    proxies,
		Timeout:    cfg.Browser.Timeout,
		UserAgents: cfg.UserAgents,
	})

	var resultCache cache.Cache
	if cfg.Cache.Enabled {
		resultCache = cache.NewMemoryCache(cfg.Cache.MaxSizeBytes)
		logger.Debug().
			Int64("max_size_bytes", cfg.Cache.MaxSizeBytes).
			Dur("ttl", cfg.Cache.TTL).
			Msg("Result cache initialized")
	}

	retrier := retry.New(retry.Config{InitialBackoff: cfg.Retry.InitialBackoff})
	retrier.OnRetry = func(attempt int, backoff time.Duration, err error) {
		logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Str("code", string(engine.CodeOf(err))).
			Err(err).
			Msg("Retrying extraction")
	}

	cascade := engine.NewCascade(httpScraper, browserScraper, stealthScraper)
	orch := orchestrator.New(orchestrator.Config{
		Cascade:  cascade,
		Retry:    retrier,
		Cache:    resultCache,
		CacheTTL: cfg.Cache.TTL,
		Pools:    []orchestrator.ProcessPool{browsers, stealthBrowsers},
	})

	sinks := events.Multi{events.LogSink{}}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Secret))
		logger.Debug().Str("url", cfg.Webhook.URL).Msg("Webhook sink enabled")
	}

	app := &Application{
		Config:       cfg,
		Logger:       &logger,
		Cache:        resultCache,
		Proxies:      proxies,
		Browsers:     browsers,
		Stealth:      stealthBrowsers,
		HTTP:         httpScraper,
		Cascade:      cascade,
		Orchestrator: orch,
		Events:       sinks,
		Jobs:         jobs.NewRegistry(),
		logFile:      logFile,
		startTime:    time.Now(),
	}

	logger.Debug().Msg("Application initialized successfully")
	return app, nil
}

// BatchRunner returns a runner over the application's orchestrator and event sinks
func (a *Application) BatchRunner() *batch.Runner {
	return batch.New(a.Orchestrator, a.Events, a.Config.Batch.Concurrency)
}

// Close gracefully shuts down the application and all its resources.
//
// Every pooled browser process is terminated and queued webhook events are
// drained before the cache and the log file are released. Errors from each step are joined.
func (a *Application) Close(ctx context.Context) error {
	a.Logger.Debug().Msg("Shutting down application")

	var errs []error
	done := make(chan error, 1)
	go func() { done <- a.Orchestrator.ShutdownAll() }()
	select {
	case err := <-done:
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Error shutting down browser pools")
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("browser shutdown: %w", ctx.Err()))
	}

	if c, ok := a.Events.(interface{ Close(context.Context) error }); ok {
		if err := c.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Error draining event sinks")
			errs = append(errs, err)
		}
	}

	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.HTTP != nil {
		a.HTTP.Close()
	}

	a.Logger.Debug().Dur("uptime", a.Uptime()).Msg("Application shutdown complete")
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}

package stealth

import (
	"context"
	"time"

	"github.com/Loopxo/khoj/internal/antibot"
	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/engine/pool"
	"github.com/Loopxo/khoj/internal/ratelimit"
	"github.com/Loopxo/khoj/internal/reqctx"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
)

// idleWindow is how long the network must stay quiet before capture
const idleWindow = 500 * time.Millisecond

// Options configures the stealth strategy
type Options struct {
	Pool    *pool.Pool[*Browser]
	Limiter ratelimit.RateLimiter
	Proxies engine.ProxyPicker
	Timeout time.Duration
	// UserAgents replaces the built-in pool for requests that list none
	UserAgents []string
}

// Scraper is the stealth browser strategy
type Scraper struct {
	pool       *pool.Pool[*Browser]
	limiter    ratelimit.RateLimiter
	proxies    engine.ProxyPicker
	timeout    time.Duration
	userAgents []string
}

// New creates a stealth scraper
func New(opts Options) *Scraper {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = models.DefaultBrowserTimeout
	}
	return &Scraper{
		pool:       opts.Pool,
		limiter:    opts.Limiter,
		proxies:    opts.Proxies,
		timeout:    opts.Timeout,
		userAgents: opts.UserAgents,
	}
}

// Name returns the name of this strategy
func (s *Scraper) Name() string {
	return string(models.EngineStealthBrowser)
}

func (s *Scraper) pickProxy(cfg *models.ProxyConfig) string {
	if s.proxies != nil {
		return s.proxies.Pick(cfg)
	}
	return antibot.PickProxy(cfg)
}

// Fetch renders the URL with stealth scripts installed before any page script runs
func (s *Scraper) Fetch(ctx context.Context, req *models.ExtractionRequest) (*engine.Page, error) {
	start := time.Now()
	rc := reqctx.GetRequestContext(ctx)
	settings := antibot.Resolve(req.Options, s.pickProxy, s.userAgents)

	log.Debug().
		Str("request_id", rc.RequestID).
		Str("url", req.URL).
		Str("engine", s.Name()).
		Bool("proxied", settings.Proxy != "").
		Msg("Starting fetch")

	if err := s.limiter.Wait(ctx, req.URL); err != nil {
		return nil, engine.FetchFailure("rate limiter wait aborted", err)
	}

	fp := pool.FingerprintFor(models.EngineStealthBrowser, req.Options)
	b, err := s.pool.Acquire(ctx, fp)
	if err != nil {
		return nil, err
	}

	sess, err := b.newSession(settings.Proxy)
	if err != nil {
		if !b.Alive() {
			s.pool.Invalidate(fp)
		}
		return nil, engine.FetchFailure("failed to open browser session", err)
	}
	defer sess.close()

	page, err := s.render(ctx, sess, req, settings)
	if err != nil {
		if !b.Alive() {
			s.pool.Invalidate(fp)
		}
		if settings.Proxy != "" && s.proxies != nil {
			s.proxies.MarkFailed(settings.Proxy)
		}
		return nil, engine.FetchFailure("stealth navigation failed", err).WithDetail("url", req.URL)
	}

	log.Debug().
		Str("request_id", rc.RequestID).
		Str("url", req.URL).
		Int("status", page.StatusCode).
		Int("bytes", len(page.HTML)).
		Int64("response_time_ms", time.Since(start).Milliseconds()).
		Msg("Fetch completed")

	return page, nil
}

func (s *Scraper) render(ctx context.Context, sess *session, req *models.ExtractionRequest, settings antibot.Settings) (*engine.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Options.TimeoutOr(s.timeout))
	defer cancel()
	p := sess.page.Context(ctx)

	if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
		return nil, err
	}
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: settings.UserAgent}); err != nil {
		return nil, err
	}
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080, DeviceScaleFactor: 1}); err != nil {
		return nil, err
	}
	for name, value := range settings.Cookies {
		if _, err := (proto.NetworkSetCookie{Name: name, Value: value, URL: req.URL}).Call(p); err != nil {
			return nil, err
		}
	}

	// The idle listener has to exist before navigation or in-flight requests are missed.
	waitIdle := p.WaitRequestIdle(idleWindow, nil, nil, nil)
	if err := p.Navigate(req.URL); err != nil {
		return nil, err
	}
	waitIdle()

	if err := antibot.Sleep(ctx, settings.Delay); err != nil {
		return nil, err
	}

	out := &engine.Page{URL: req.URL, FinalURL: req.URL}
	if info, err := p.Info(); err == nil {
		out.FinalURL = info.URL
	}
	if res, err := p.Eval(`() => {
		const nav = performance.getEntriesByType("navigation");
		return nav.length > 0 ? (nav[0].responseStatus || 0) : 0;
	}`); err == nil {
		out.StatusCode = res.Value.Int()
	}

	html, err := p.HTML()
	if err != nil {
		return nil, err
	}
	out.HTML = html

	if req.Options.Screenshot {
		shot, err := p.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
		if err != nil {
			return nil, err
		}
		out.Screenshot = shot
	}
	return out, nil
}

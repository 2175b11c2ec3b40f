// internal/engine/dynamic/scraper.go
package dynamic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Loopxo/khoj/internal/antibot"
	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/engine/pool"
	"github.com/Loopxo/khoj/internal/ratelimit"
	"github.com/Loopxo/khoj/internal/reqctx"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// Options configures the browser strategy
type Options struct {
	Pool    *pool.Pool[*Browser]
	Limiter ratelimit.RateLimiter
	Proxies engine.ProxyPicker
	Timeout time.Duration
	// UserAgents replaces the built-in pool for requests that list none
	UserAgents []string
}

// Scraper renders pages in headless Chrome. Every fetch runs in its own
// browser context on a pooled process.
type Scraper struct {
	pool       *pool.Pool[*Browser]
	limiter    ratelimit.RateLimiter
	proxies    engine.ProxyPicker
	timeout    time.Duration
	userAgents []string
}

// New creates a new browser scraper with dependency injection
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
func (d *Scraper) Name() string {
	return string(models.EngineBrowser)
}

func (d *Scraper) pickProxy(cfg *models.ProxyConfig) string {
	if d.proxies != nil {
		return d.proxies.Pick(cfg)
	}
	return antibot.PickProxy(cfg)
}

// Fetch navigates to the URL, waits for the network to go idle, applies the
// anti-bot delay and captures the rendered document.
func (d *Scraper) Fetch(ctx context.Context, req *models.ExtractionRequest) (*engine.Page, error) {
	start := time.Now()
	rc := reqctx.GetRequestContext(ctx)
	settings := antibot.Resolve(req.Options, d.pickProxy, d.userAgents)

	log.Debug().
		Str("request_id", rc.RequestID).
		Str("url", req.URL).
		Str("engine", d.Name()).
		Bool("proxied", settings.Proxy != "").
		Msg("Starting fetch")

	if err := d.limiter.Wait(ctx, req.URL); err != nil {
		return nil, engine.FetchFailure("rate limiter wait aborted", err)
	}

	fp := pool.FingerprintFor(models.EngineBrowser, req.Options)
	b, err := d.pool.Acquire(ctx, fp)
	if err != nil {
		return nil, err
	}

	sess, err := b.newSession(settings.Proxy)
	if err != nil {
		if !b.Alive() {
			d.pool.Invalidate(fp)
		}
		return nil, engine.FetchFailure("failed to open browser session", err)
	}
	defer sess.close()

	runCtx, cancel := context.WithTimeout(sess.ctx, req.Options.TimeoutOr(d.timeout))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	out := &engine.Page{URL: req.URL}
	var status atomic.Int64
	watch := newMainFrameWatch()

	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *page.EventLifecycleEvent:
			watch.lifecycle(ev)
		case *network.EventResponseReceived:
			if ev.Type == network.ResourceTypeDocument && watch.isMain(ev.FrameID) {
				status.Store(ev.Response.Status)
			}
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		emulation.SetUserAgentOverride(settings.UserAgent),
		chromedp.EmulateViewport(1920, 1080),
	}
	for name, value := range settings.Cookies {
		actions = append(actions, network.SetCookie(name, value).WithURL(req.URL))
	}
	actions = append(actions,
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			watch.arm(tree.Frame.ID)
			return nil
		}),
		chromedp.Navigate(req.URL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			select {
			case <-watch.idle:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return antibot.Sleep(ctx, settings.Delay)
		}),
		chromedp.Location(&out.FinalURL),
		chromedp.OuterHTML("html", &out.HTML, chromedp.ByQuery),
	)
	if req.Options.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&out.Screenshot, 100))
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if !b.Alive() {
			d.pool.Invalidate(fp)
		}
		if settings.Proxy != "" && d.proxies != nil {
			d.proxies.MarkFailed(settings.Proxy)
		}
		return nil, engine.FetchFailure("browser navigation failed", err).WithDetail("url", req.URL)
	}
	out.StatusCode = int(status.Load())

	log.Debug().
		Str("request_id", rc.RequestID).
		Str("url", req.URL).
		Int("status", out.StatusCode).
		Int("bytes", len(out.HTML)).
		Bool("screenshot", len(out.Screenshot) > 0).
		Int64("response_time_ms", time.Since(start).Milliseconds()).
		Msg("Fetch completed")

	return out, nil
}

// mainFrameWatch turns lifecycle events into a single idle signal for the
// top-level document. Child frames and events from before arm are ignored.
type mainFrameWatch struct {
	mu        sync.Mutex
	frame     cdp.FrameID
	committed bool
	idle      chan struct{}
}

func newMainFrameWatch() *mainFrameWatch {
	return &mainFrameWatch{idle: make(chan struct{}, 1)}
}

// arm starts tracking frame; the next init on it marks the navigation committed
func (w *mainFrameWatch) arm(frame cdp.FrameID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame = frame
	w.committed = false
}

func (w *mainFrameWatch) isMain(frame cdp.FrameID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frame != "" && frame == w.frame
}

func (w *mainFrameWatch) lifecycle(ev *page.EventLifecycleEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.frame == "" || ev.FrameID != w.frame {
		return
	}
	switch {
	case ev.Name == "init":
		w.committed = true
	case ev.Name == "networkIdle" && w.committed:
		select {
		case w.idle <- struct{}{}:
		default:
		}
	}
}

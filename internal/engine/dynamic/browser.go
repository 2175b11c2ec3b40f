// internal/engine/dynamic/browser.go
package dynamic

import (
	"context"
	"errors"
	"fmt"

	"github.com/Loopxo/khoj/internal/engine/pool"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// LaunchOptions configures the Chrome processes started for the pool
type LaunchOptions struct {
	ChromePath string
	Headless   bool
}

// Browser is one running Chrome process
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// Launcher adapts Launch to the pool
func Launcher(opts LaunchOptions) pool.LaunchFunc[*Browser] {
	return func(ctx context.Context, fp pool.Fingerprint) (*Browser, error) {
		log.Debug().Str("fingerprint", fp.Key()).Bool("headless", opts.Headless).Msg("Launching Chrome")
		return Launch(ctx, opts)
	}
}

func allocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.IgnoreCertErrors,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("window-size", "1920,1080"),
	}
	if path := FindChrome(opts.ChromePath); path != "" {
		allocOpts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(path)}, allocOpts...)
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	return allocOpts
}

// Launch starts Chrome and waits until it accepts commands
func Launch(ctx context.Context, opts LaunchOptions) (*Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, ctx.Err()
	}

	return &Browser{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel}, nil
}

// Alive reports whether the process is still usable
func (b *Browser) Alive() bool {
	return b.ctx.Err() == nil
}

// Close terminates the process
func (b *Browser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

// session is an isolated browser context with a single tab
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	exec   context.Context
	id     cdp.BrowserContextID
	closed bool
}

// newSession opens a fresh browser context so cookies and storage never
// leak between extractions. A non-empty proxy applies to this context only.
func (b *Browser) newSession(proxy string) (*session, error) {
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return nil, errors.New("browser is not running")
	}
	exec := cdp.WithExecutor(b.ctx, c.Browser)

	create := target.CreateBrowserContext()
	if proxy != "" {
		create = create.WithProxyServer(proxy)
	}
	id, err := create.Do(exec)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	tid, err := target.CreateTarget("about:blank").WithBrowserContextID(id).Do(exec)
	if err != nil {
		if derr := target.DisposeBrowserContext(id).Do(exec); derr != nil {
			log.Debug().Err(derr).Msg("Failed to dispose browser context")
		}
		return nil, fmt.Errorf("create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx, chromedp.WithTargetID(tid))
	return &session{ctx: tabCtx, cancel: tabCancel, exec: exec, id: id}, nil
}

// close tears the context down. Safe to call more than once.
func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	if err := target.DisposeBrowserContext(s.id).Do(s.exec); err != nil {
		log.Debug().Err(err).Str("browser_context", string(s.id)).Msg("Failed to dispose browser context")
	}
}

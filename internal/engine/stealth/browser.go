// Package stealth renders pages in a Chromium instance driven by rod with
// fingerprint-masking scripts injected into every document.
package stealth

import (
	"context"
	"fmt"

	"github.com/Loopxo/khoj/internal/engine/dynamic"
	"github.com/Loopxo/khoj/internal/engine/pool"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// LaunchOptions configures the stealth Chromium processes
type LaunchOptions struct {
	ChromePath string
}

// Browser is one running stealth Chromium process
type Browser struct {
	rod      *rod.Browser
	launcher *launcher.Launcher
}

// Launcher adapts Launch to the pool
func Launcher(opts LaunchOptions) pool.LaunchFunc[*Browser] {
	return func(ctx context.Context, fp pool.Fingerprint) (*Browser, error) {
		log.Debug().Str("fingerprint", fp.Key()).Msg("Launching stealth Chromium")
		return Launch(ctx, opts)
	}
}

// Launch starts a headless Chromium with automation markers removed
func Launch(ctx context.Context, opts LaunchOptions) (*Browser, error) {
	l := launcher.New().
		Headless(true).
		NoSandbox(true)

	if path := dynamic.FindChrome(opts.ChromePath); path != "" {
		l = l.Bin(path)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-setuid-sandbox"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-gpu"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("no-zygote"))
	l.Set(flags.Flag("ignore-certificate-errors"))
	l.Set(flags.Flag("window-size"), "1920,1080")

	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		done <- launched{u, err}
	}()

	var controlURL string
	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("launch chromium: %w", res.err)
		}
		controlURL = res.url
	case <-ctx.Done():
		l.Kill()
		return nil, ctx.Err()
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	log.Debug().Str("control_url", controlURL).Msg("Stealth Chromium ready")

	return &Browser{rod: browser, launcher: l}, nil
}

// Alive reports whether the process still answers commands
func (b *Browser) Alive() bool {
	_, err := proto.BrowserGetVersion{}.Call(b.rod)
	return err == nil
}

// Close terminates the process and removes its profile directory
func (b *Browser) Close() error {
	err := b.rod.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	return err
}

// session is an isolated browser context with one page
type session struct {
	browser *rod.Browser
	page    *rod.Page
	id      proto.BrowserBrowserContextID
}

func (b *Browser) newSession(proxy string) (*session, error) {
	bc, err := proto.TargetCreateBrowserContext{ProxyServer: proxy}.Call(b.rod)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	s := &session{browser: b.rod, id: bc.BrowserContextID}

	t, err := proto.TargetCreateTarget{URL: "about:blank", BrowserContextID: bc.BrowserContextID}.Call(b.rod)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("create target: %w", err)
	}
	s.page, err = b.rod.PageFromTarget(t.TargetID)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("attach page: %w", err)
	}
	return s, nil
}

func (s *session) close() {
	if s.page != nil {
		_ = s.page.Close()
	}
	if err := (proto.TargetDisposeBrowserContext{BrowserContextID: s.id}).Call(s.browser); err != nil {
		log.Debug().Err(err).Str("browser_context", string(s.id)).Msg("Failed to dispose browser context")
	}
}

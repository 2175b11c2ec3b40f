package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// CaptureOptions configures an interactive cookie capture
type CaptureOptions struct {
	Name       string
	URL        string
	ChromePath string
	// WaitSelector marks a logged-in page. Without it Confirm is called.
	WaitSelector string
	Timeout      time.Duration
	// Confirm blocks until the user says the login is complete
	Confirm func() error
}

// Capture opens a visible Chrome at opts.URL, waits for the user to log in and
// returns the resulting cookies as a session.
func Capture(ctx context.Context, opts CaptureOptions) (*Session, error) {
	if err := validName(opts.Name); err != nil {
		return nil, err
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.WaitSelector == "" && opts.Confirm == nil {
		return nil, fmt.Errorf("either a wait selector or a confirm callback is required")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 720),
	}
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	log.Info().Str("session", opts.Name).Str("url", opts.URL).Msg("Opening browser for login")
	if err := chromedp.Run(browserCtx, network.Enable(), chromedp.Navigate(opts.URL)); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}

	if opts.WaitSelector != "" {
		if err := chromedp.Run(browserCtx, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery)); err != nil {
			return nil, fmt.Errorf("login timeout or failed: %w", err)
		}
	} else if err := opts.Confirm(); err != nil {
		return nil, err
	}

	var cookies []*network.Cookie
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to extract cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies found - login may have failed")
	}

	log.Info().Int("cookie_count", len(cookies)).Msg("Cookies captured")
	return fromBrowserCookies(opts.Name, opts.URL, cookies, time.Now()), nil
}

func fromBrowserCookies(name, url string, cookies []*network.Cookie, now time.Time) *Session {
	s := &Session{
		Name:      name,
		URL:       url,
		Cookies:   make([]Cookie, len(cookies)),
		CreatedAt: now,
	}
	maxExpires := 0.0
	for i, c := range cookies {
		s.Cookies[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		maxExpires = max(maxExpires, c.Expires)
	}
	// session cookies report -1 and never set an expiry
	if maxExpires > 0 {
		s.ExpiresAt = time.Unix(int64(maxExpires), 0)
	}
	return s
}

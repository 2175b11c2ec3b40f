// internal/engine/static/scraper.go
package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/Loopxo/khoj/internal/antibot"
	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/ratelimit"
	"github.com/Loopxo/khoj/internal/reqctx"
	"github.com/Loopxo/khoj/internal/retry"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultMaxRedirects bounds how many redirects a fetch follows
	DefaultMaxRedirects = 5
	maxBodyBytes        = 10 << 20
)

// Options configures the HTTP strategy
type Options struct {
	Limiter      ratelimit.RateLimiter
	Proxies      engine.ProxyPicker
	Timeout      time.Duration
	MaxRedirects int
	ChromeTLS    bool
	// UserAgents replaces the built-in pool for requests that list none
	UserAgents []string
}

// Scraper is the plain HTTP fetch strategy. It is the cheapest engine and
// runs first in the auto cascade.
type Scraper struct {
	limiter      ratelimit.RateLimiter
	proxies      engine.ProxyPicker
	timeout      time.Duration
	maxRedirects int
	direct       *http.Transport
	userAgents   []string

	mu      sync.Mutex
	proxied map[string]*http.Transport
}

// New creates a new HTTP scraper with dependency injection
func New(opts Options) *Scraper {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = models.DefaultHTTPTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	direct := newTransport()
	if opts.ChromeTLS {
		direct = newChromeTransport()
	}
	return &Scraper{
		limiter:      opts.Limiter,
		proxies:      opts.Proxies,
		timeout:      opts.Timeout,
		maxRedirects: opts.MaxRedirects,
		direct:       direct,
		userAgents:   opts.UserAgents,
		proxied:      make(map[string]*http.Transport),
	}
}

// Name returns the name of this strategy
func (s *Scraper) Name() string {
	return string(models.EngineHTTP)
}

func (s *Scraper) pickProxy(cfg *models.ProxyConfig) string {
	if s.proxies != nil {
		return s.proxies.Pick(cfg)
	}
	return antibot.PickProxy(cfg)
}

// transportFor returns the shared transport for a proxy, creating it on first use
func (s *Scraper) transportFor(proxy string) (*http.Transport, error) {
	if proxy == "" {
		return s.direct, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.proxied[proxy]; ok {
		return t, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
	}
	t := newTransport()
	t.Proxy = http.ProxyURL(proxyURL)
	s.proxied[proxy] = t
	return t, nil
}

// Fetch retrieves the raw document. The anti-bot delay runs before the request.
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

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, engine.FetchFailure("invalid URL", err)
	}

	if err := s.limiter.Wait(ctx, req.URL); err != nil {
		return nil, engine.FetchFailure("rate limiter wait aborted", err)
	}
	if err := antibot.Sleep(ctx, settings.Delay); err != nil {
		return nil, engine.FetchFailure("anti-bot delay aborted", err)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Options.TimeoutOr(s.timeout))
	defer cancel()

	transport, err := s.transportFor(settings.Proxy)
	if err != nil {
		return nil, engine.FetchFailure("proxy setup failed", err)
	}

	// A fresh jar per request keeps cookies from leaking between extractions.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, engine.FetchFailure("cookie jar setup failed", err)
	}
	if len(settings.Cookies) > 0 {
		jar.SetCookies(target, antibot.HTTPCookies(target, settings.Cookies))
	}

	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) > s.maxRedirects {
				return fmt.Errorf("stopped after %d redirects", s.maxRedirects)
			}
			return nil
		},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, engine.FetchFailure("failed to create request", err)
	}
	httpReq.Header.Set("User-Agent", settings.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(httpReq)
	if err != nil {
		if settings.Proxy != "" && s.proxies != nil {
			s.proxies.MarkFailed(settings.Proxy)
		}
		return nil, engine.FetchFailure("failed to fetch URL", err).WithDetail("url", req.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, engine.FetchFailure("unexpected status",
			retry.NewHTTPError(resp.StatusCode, http.StatusText(resp.StatusCode), "")).
			WithDetail("url", req.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, engine.FetchFailure("failed to read body", err)
	}

	log.Debug().
		Str("request_id", rc.RequestID).
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Int64("response_time_ms", time.Since(start).Milliseconds()).
		Msg("Fetch completed")

	return &engine.Page{
		URL:        req.URL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       string(body),
	}, nil
}

// Close releases idle connections held by the strategy's transports
func (s *Scraper) Close() {
	s.direct.CloseIdleConnections()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.proxied {
		t.CloseIdleConnections()
	}
}

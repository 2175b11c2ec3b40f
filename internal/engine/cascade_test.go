package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/Loopxo/khoj/internal/extract"
	"github.com/Loopxo/khoj/pkg/models"
)

const itemsHTML = `<html><body>
<div class="item"><h2>Widget</h2><span class="price">$10</span></div>
</body></html>`

type fakeStrategy struct {
	name  string
	html  string
	err   error
	calls int
}

func (f *fakeStrategy) Fetch(ctx context.Context, req *models.ExtractionRequest) (*Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Page{URL: req.URL, HTML: f.html, Screenshot: []byte("png")}, nil
}

func (f *fakeStrategy) Name() string { return f.name }

func itemPlan(t *testing.T) *extract.Plan {
	t.Helper()
	plan, err := extract.Compile(models.SelectorSpec{
		Container: ".item",
		Fields:    map[string]string{"title": "h2", "price": ".price"},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return plan
}

func newRequest(e models.Engine) *models.ExtractionRequest {
	return &models.ExtractionRequest{URL: "http://example.test", Options: models.ExtractionOptions{Engine: e}}
}

func TestCascade_Auto_HTTPRecordsStop(t *testing.T) {
	httpS := &fakeStrategy{name: "http", html: itemsHTML}
	browser := &fakeStrategy{name: "browser", html: itemsHTML}

	out, err := NewCascade(httpS, browser).Run(context.Background(), newRequest(models.EngineAuto), itemPlan(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Engine != models.EngineHTTP {
		t.Errorf("Expected engine http, got %s", out.Engine)
	}
	if browser.calls != 0 {
		t.Errorf("Expected no browser calls, got %d", browser.calls)
	}
	if len(out.Records) != 1 || out.Records[0]["title"] != "Widget" || out.Records[0]["price"] != "$10" {
		t.Errorf("Unexpected records: %v", out.Records)
	}
}

func TestCascade_Auto_ZeroRecordsFallsBackOnce(t *testing.T) {
	httpS := &fakeStrategy{name: "http", html: `<html><body><p>shell</p></body></html>`}
	browser := &fakeStrategy{name: "browser", html: itemsHTML}

	out, err := NewCascade(httpS, browser).Run(context.Background(), newRequest(models.EngineAuto), itemPlan(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if httpS.calls != 1 || browser.calls != 1 {
		t.Errorf("Expected one call each, got http=%d browser=%d", httpS.calls, browser.calls)
	}
	if out.Engine != models.EngineBrowser {
		t.Errorf("Expected engine browser, got %s", out.Engine)
	}
	if string(out.Page.Screenshot) != "png" {
		t.Errorf("Expected screenshot carried through outcome")
	}
}

func TestCascade_Auto_FetchFailureFallsBack(t *testing.T) {
	httpS := &fakeStrategy{name: "http", err: FetchFailure("blocked", nil)}
	browser := &fakeStrategy{name: "browser", html: itemsHTML}

	out, err := NewCascade(httpS, browser).Run(context.Background(), newRequest(models.EngineAuto), itemPlan(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Engine != models.EngineBrowser || len(out.Records) != 1 {
		t.Errorf("Expected browser outcome with one record, got %s/%d", out.Engine, len(out.Records))
	}
}

func TestCascade_Auto_StealthFlagKeepsStandardBrowser(t *testing.T) {
	httpS := &fakeStrategy{name: "http", html: `<html></html>`}
	browser := &fakeStrategy{name: "browser", html: itemsHTML}
	stealth := &fakeStrategy{name: "stealth-browser", html: itemsHTML}

	req := newRequest(models.EngineAuto)
	req.Options.AntiBot = &models.AntiBotConfig{Stealth: true}
	out, err := NewCascade(httpS, browser, stealth).Run(context.Background(), req, itemPlan(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if browser.calls != 1 || stealth.calls != 0 {
		t.Errorf("Expected standard browser fallback, got browser=%d stealth=%d", browser.calls, stealth.calls)
	}
	if out.Engine != models.EngineBrowser {
		t.Errorf("Expected engine browser, got %s", out.Engine)
	}
}

func TestCascade_HTTP_NeverCallsBrowser(t *testing.T) {
	httpS := &fakeStrategy{name: "http", html: `<html></html>`}
	browser := &fakeStrategy{name: "browser", html: itemsHTML}

	out, err := NewCascade(httpS, browser).Run(context.Background(), newRequest(models.EngineHTTP), itemPlan(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Records) != 0 {
		t.Errorf("Expected zero records, got %d", len(out.Records))
	}
	if browser.calls != 0 {
		t.Errorf("Expected no browser calls, got %d", browser.calls)
	}
}

func TestCascade_HTTP_FailurePropagatesAsExtractionFailure(t *testing.T) {
	httpS := &fakeStrategy{name: "http", err: FetchFailure("refused", nil)}
	browser := &fakeStrategy{name: "browser", html: itemsHTML}

	_, err := NewCascade(httpS, browser).Run(context.Background(), newRequest(models.EngineHTTP), itemPlan(t))
	if CodeOf(err) != ErrCodeExtraction {
		t.Fatalf("Expected EXTRACTION_FAILURE, got %v", err)
	}
	if !errors.Is(err, ErrFetchFailure) {
		t.Errorf("Expected underlying FETCH_FAILURE to be preserved")
	}
	if !IsRetryable(err) {
		t.Errorf("Expected wrapped fetch failure to stay retryable")
	}
	if browser.calls != 0 {
		t.Errorf("Expected no browser calls, got %d", browser.calls)
	}
}

func TestCascade_StealthRoutesToStealth(t *testing.T) {
	httpS := &fakeStrategy{name: "http", html: itemsHTML}
	browser := &fakeStrategy{name: "browser", html: itemsHTML}
	stealth := &fakeStrategy{name: "stealth-browser", html: itemsHTML}

	out, err := NewCascade(httpS, browser, stealth).Run(context.Background(), newRequest(models.EngineStealthBrowser), itemPlan(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if httpS.calls != 0 || browser.calls != 0 || stealth.calls != 1 {
		t.Errorf("Unexpected calls: http=%d browser=%d stealth=%d", httpS.calls, browser.calls, stealth.calls)
	}
	if out.Engine != models.EngineStealthBrowser {
		t.Errorf("Expected engine stealth-browser, got %s", out.Engine)
	}
}

func TestCascade_BrowserFailureNotRetriedThroughHTTP(t *testing.T) {
	httpS := &fakeStrategy{name: "http", html: itemsHTML}
	browser := &fakeStrategy{name: "browser", err: FetchFailure("navigation timeout", nil)}

	_, err := NewCascade(httpS, browser).Run(context.Background(), newRequest(models.EngineBrowser), itemPlan(t))
	if !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("Expected EXTRACTION_FAILURE, got %v", err)
	}
	if httpS.calls != 0 {
		t.Errorf("Expected no http calls for browser engine, got %d", httpS.calls)
	}
}

func TestCascade_MissingStrategy(t *testing.T) {
	_, err := NewCascade(&fakeStrategy{name: "http"}).Run(context.Background(), newRequest(models.EngineBrowser), itemPlan(t))
	if !errors.Is(err, ErrNoStrategy) {
		t.Errorf("Expected ErrNoStrategy, got %v", err)
	}
}

func TestCascade_Strategy(t *testing.T) {
	c := NewCascade(&fakeStrategy{name: "http"}, nil)
	if s, ok := c.Strategy(models.EngineHTTP); !ok || s.Name() != "http" {
		t.Errorf("Strategy(http) = %v, %v", s, ok)
	}
	if _, ok := c.Strategy(models.EngineBrowser); ok {
		t.Error("browser strategy should not be registered")
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		engine models.Engine
		want   []models.Engine
	}{
		{models.EngineAuto, []models.Engine{models.EngineHTTP, models.EngineBrowser}},
		{models.EngineHTTP, []models.Engine{models.EngineHTTP}},
		{models.EngineBrowser, []models.Engine{models.EngineBrowser}},
		{models.EngineStealthBrowser, []models.Engine{models.EngineStealthBrowser}},
	}
	for _, tt := range tests {
		steps := Plan(tt.engine)
		if len(steps) != len(tt.want) {
			t.Errorf("Plan(%s): expected %d steps, got %d", tt.engine, len(tt.want), len(steps))
			continue
		}
		for i := range steps {
			if steps[i].Engine != tt.want[i] {
				t.Errorf("Plan(%s)[%d] = %s, want %s", tt.engine, i, steps[i].Engine, tt.want[i])
			}
		}
	}
}

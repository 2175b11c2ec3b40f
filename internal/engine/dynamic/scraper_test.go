package dynamic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Loopxo/khoj/internal/engine/pool"
	"github.com/Loopxo/khoj/pkg/models"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

func newTestScraper(t *testing.T) *Scraper {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if FindChrome("") == "" {
		t.Skip("Chrome not installed")
	}
	p := pool.New("browser", Launcher(LaunchOptions{Headless: true}))
	t.Cleanup(func() { p.ShutdownAll() })
	return New(Options{Pool: p, Timeout: 20 * time.Second})
}

// cookieEcho writes the request's cookie header into the page
func cookieEcho() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/favicon.ico" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("set") != "" {
			http.SetCookie(w, &http.Cookie{Name: "leak", Value: "yes", Path: "/"})
		}
		w.Write([]byte(`<html><body><p id="cookies">` + r.Header.Get("Cookie") + `</p></body></html>`))
	}))
}

func TestScraper_Fetch_RendersAndSetsCookies(t *testing.T) {
	s := newTestScraper(t)
	server := cookieEcho()
	defer server.Close()

	req := &models.ExtractionRequest{
		URL: server.URL + "/",
		Options: models.ExtractionOptions{
			AntiBot: &models.AntiBotConfig{Cookies: map[string]string{"session": "abc"}},
		},
	}
	page, err := s.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(page.HTML, "session=abc") {
		t.Errorf("Expected configured cookie to be sent, got %q", page.HTML)
	}
	if page.StatusCode != 200 {
		t.Errorf("Expected status code 200, got %d", page.StatusCode)
	}
}

func TestScraper_Fetch_SessionIsolation(t *testing.T) {
	s := newTestScraper(t)
	server := cookieEcho()
	defer server.Close()

	first := &models.ExtractionRequest{URL: server.URL + "/?set=1"}
	if _, err := s.Fetch(context.Background(), first); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}

	second := &models.ExtractionRequest{URL: server.URL + "/"}
	page, err := s.Fetch(context.Background(), second)
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if strings.Contains(page.HTML, "leak=yes") {
		t.Errorf("Cookie from the first extraction leaked into the second: %q", page.HTML)
	}
	if s.pool.Len() != 1 {
		t.Errorf("Expected one pooled browser, got %d", s.pool.Len())
	}
}

func TestScraper_Fetch_Screenshot(t *testing.T) {
	s := newTestScraper(t)
	server := cookieEcho()
	defer server.Close()

	req := &models.ExtractionRequest{
		URL:     server.URL + "/",
		Options: models.ExtractionOptions{Screenshot: true},
	}
	page, err := s.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(page.Screenshot) < 8 || string(page.Screenshot[1:4]) != "PNG" {
		t.Errorf("Expected a PNG screenshot, got %d bytes", len(page.Screenshot))
	}
}

func TestScraper_Fetch_IgnoresIframeDocument(t *testing.T) {
	s := newTestScraper(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><h1 id="main">main</h1><iframe src="/frame"></iframe></body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<html><body>missing</body></html>`))
		}
	}))
	defer server.Close()

	page, err := s.Fetch(context.Background(), &models.ExtractionRequest{URL: server.URL + "/"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if page.StatusCode != 200 {
		t.Errorf("Expected the main document status 200, got %d", page.StatusCode)
	}
	if !strings.Contains(page.HTML, `id="main"`) {
		t.Errorf("Expected main document HTML, got %q", page.HTML)
	}
}

func lifecycle(frame cdp.FrameID, name string) *page.EventLifecycleEvent {
	return &page.EventLifecycleEvent{FrameID: frame, Name: name}
}

func idleSignalled(w *mainFrameWatch) bool {
	select {
	case <-w.idle:
		return true
	default:
		return false
	}
}

func TestMainFrameWatch_IgnoresChildFrames(t *testing.T) {
	w := newMainFrameWatch()
	w.arm("main")

	w.lifecycle(lifecycle("child", "init"))
	w.lifecycle(lifecycle("child", "networkIdle"))
	if idleSignalled(w) {
		t.Fatal("child frame events must not signal idle")
	}

	w.lifecycle(lifecycle("main", "init"))
	w.lifecycle(lifecycle("child", "networkIdle"))
	if idleSignalled(w) {
		t.Fatal("child networkIdle after main commit must not signal idle")
	}

	w.lifecycle(lifecycle("main", "networkIdle"))
	if !idleSignalled(w) {
		t.Fatal("expected idle after main frame networkIdle")
	}
}

func TestMainFrameWatch_RequiresCommit(t *testing.T) {
	w := newMainFrameWatch()
	w.lifecycle(lifecycle("main", "init"))
	w.lifecycle(lifecycle("main", "networkIdle"))
	if idleSignalled(w) {
		t.Fatal("events before arm must be ignored")
	}

	w.arm("main")
	w.lifecycle(lifecycle("main", "networkIdle"))
	if idleSignalled(w) {
		t.Fatal("networkIdle of the previous document must not signal idle")
	}
	w.lifecycle(lifecycle("main", "init"))
	w.lifecycle(lifecycle("main", "networkIdle"))
	w.lifecycle(lifecycle("main", "networkIdle"))
	if !idleSignalled(w) {
		t.Fatal("expected idle after commit")
	}
	if idleSignalled(w) {
		t.Fatal("expected a single buffered idle signal")
	}
}

func TestMainFrameWatch_IsMain(t *testing.T) {
	w := newMainFrameWatch()
	if w.isMain("") || w.isMain("main") {
		t.Error("nothing is main before arm")
	}
	w.arm("main")
	if !w.isMain("main") || w.isMain("child") {
		t.Error("only the armed frame is main")
	}
}

func TestScraper_Name(t *testing.T) {
	if name := New(Options{}).Name(); name != "browser" {
		t.Errorf("Expected name 'browser', got '%s'", name)
	}
}

func TestChromeCandidates_Linux(t *testing.T) {
	got := chromeCandidates("linux", "/home/u")
	if len(got) == 0 || got[0] != "/usr/bin/google-chrome-stable" {
		t.Errorf("Unexpected linux candidates: %v", got)
	}
	if !strings.HasPrefix(got[len(got)-1], "/home/u/") {
		t.Errorf("Expected home flatpak candidate last, got %s", got[len(got)-1])
	}
}

package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestSummarize(t *testing.T) {
	html := `<html><head><title> Shop  Home </title>
<meta name="description" content="Widgets">
<meta property="og:title" content="Shop"></head>
<body><a href="/a">A</a><a href="/b">B</a><img src="/x.png"><script src="/app.js"></script></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	s := Summarize(doc)
	if s.Title != "Shop Home" {
		t.Errorf("Expected title 'Shop Home', got '%s'", s.Title)
	}
	if s.Meta["description"] != "Widgets" || s.Meta["og:title"] != "Shop" {
		t.Errorf("Unexpected meta: %v", s.Meta)
	}
	if s.Links != 2 || s.Images != 1 || s.Scripts != 1 {
		t.Errorf("Unexpected counts: links=%d images=%d scripts=%d", s.Links, s.Images, s.Scripts)
	}
}

func TestDetectFramework(t *testing.T) {
	tests := map[string]string{
		`<script id="__NEXT_DATA__">{}</script>`: "Next.js",
		`<div id="app" data-v-app></div>`:        "Vue",
		`<app-root ng-version="17.0.0">`:         "Angular",
		`<p>plain page</p>`:                      "",
	}
	for html, want := range tests {
		if got := DetectFramework(html); got != want {
			t.Errorf("DetectFramework(%q) = %q, want %q", html, got, want)
		}
	}
}

func TestLooksClientRendered(t *testing.T) {
	if !LooksClientRendered(`<html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`) {
		t.Error("Expected empty shell with script to look client rendered")
	}
	if LooksClientRendered(`<html><body><div></div><div></div><div></div><p>text</p></body></html>`) {
		t.Error("Expected static page not to look client rendered")
	}
}

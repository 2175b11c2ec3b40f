package extract

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Loopxo/khoj/pkg/models"
)

func TestExtract_ItemScenario(t *testing.T) {
	html := `<body><div class="item"><h2>Widget</h2><span class="price">$10</span></div></body>`
	spec := models.SelectorSpec{
		Container: ".item",
		Fields:    map[string]string{"title": "h2", "price": ".price"},
	}

	records, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}

	want := []models.Record{{"title": "Widget", "price": "$10"}}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("Expected %v, got %v", want, records)
	}
}

func TestExtract_DocumentFallback(t *testing.T) {
	html := `<body><h2>Top Level</h2><div class="item"><span>no heading</span></div></body>`
	spec := models.SelectorSpec{
		Container: ".item",
		Fields:    map[string]string{"title": "h2"},
	}

	records, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0]["title"] != "Top Level" {
		t.Errorf("Expected fallback title 'Top Level', got '%s'", records[0]["title"])
	}
}

func TestExtract_NoDocumentFallback(t *testing.T) {
	html := `<body><h2>Top Level</h2><div class="item"><span>no heading</span></div></body>`
	spec := models.SelectorSpec{
		Container:          ".item",
		Fields:             map[string]string{"title": "h2"},
		NoDocumentFallback: true,
	}

	records, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records without fallback, got %v", records)
	}
}

func TestExtract_EmptyRecordsDropped(t *testing.T) {
	html := `<body>
		<div class="item"><h3>First</h3></div>
		<div class="item"><p>nothing useful</p></div>
	</body>`
	spec := models.SelectorSpec{
		Container: ".item",
		Fields:    map[string]string{"title": "h3"},
	}

	records, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	// second item falls back to the first h3 in the document
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	spec.Fields = map[string]string{"missing": ".does-not-exist"}
	records, err = FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected all-empty records to be dropped, got %v", records)
	}
}

func TestExtract_Attribute(t *testing.T) {
	html := `<body><div class="card"><img src="/a.png" alt="Alt text">caption</div></body>`
	spec := models.SelectorSpec{
		Container: ".card",
		Fields:    map[string]string{"image": "img@src", "alt": "img@alt"},
	}

	records, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0]["image"] != "/a.png" {
		t.Errorf("Expected src '/a.png', got '%s'", records[0]["image"])
	}
	if records[0]["alt"] != "Alt text" {
		t.Errorf("Expected alt 'Alt text', got '%s'", records[0]["alt"])
	}
}

func TestExtract_NormalizesWhitespace(t *testing.T) {
	html := "<body><p class=\"x\">  hello \n\t   world  </p></body>"
	spec := models.SelectorSpec{Fields: map[string]string{"text": ".x"}}

	records, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	if len(records) != 1 || records[0]["text"] != "hello world" {
		t.Errorf("Expected 'hello world', got %v", records)
	}
}

func TestExtract_DefaultContainerIsBody(t *testing.T) {
	html := `<html><body><h1>Title</h1></body></html>`
	spec := models.SelectorSpec{Fields: map[string]string{"h": "h1"}}

	records, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	if len(records) != 1 || records[0]["h"] != "Title" {
		t.Errorf("Expected one record with h=Title, got %v", records)
	}
}

func TestExtract_MalformedSelectorFailsWholeCall(t *testing.T) {
	spec := models.SelectorSpec{
		Container: ".item",
		Fields:    map[string]string{"ok": "h2", "bad": "div[[["},
	}

	_, err := FromHTML(`<body><div class="item"><h2>x</h2></div></body>`, spec)
	if err == nil {
		t.Fatal("Expected error for malformed selector")
	}
	var selErr *SelectorError
	if !errors.As(err, &selErr) {
		t.Fatalf("Expected SelectorError, got %T", err)
	}
	if selErr.Field != "bad" {
		t.Errorf("Expected failing field 'bad', got '%s'", selErr.Field)
	}

	_, err = FromHTML(`<body></body>`, models.SelectorSpec{
		Container: "::::",
		Fields:    map[string]string{"a": "a"},
	})
	if err == nil {
		t.Error("Expected error for malformed container")
	}
}

func TestExtract_Idempotent(t *testing.T) {
	html := `<ul><li><a href="/1">One</a></li><li><a href="/2">Two</a></li></ul>`
	spec := models.SelectorSpec{
		Container: "li",
		Fields:    map[string]string{"name": "a", "link": "a@href"},
	}

	first, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	second, err := FromHTML(html, spec)
	if err != nil {
		t.Fatalf("FromHTML failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical results, got %v and %v", first, second)
	}
	if len(first) != 2 || first[1]["link"] != "/2" {
		t.Errorf("Unexpected records: %v", first)
	}
}

func TestSplitAttr(t *testing.T) {
	tests := []struct {
		in, css, attr string
	}{
		{"img@src", "img", "src"},
		{"a.link @ href", "a.link @ href", ""},
		{"a.link@data-id", "a.link", "data-id"},
		{`a[href*="@"]`, `a[href*="@"]`, ""},
		{`a[href*="@"]@href`, `a[href*="@"]`, "href"},
		{"h2", "h2", ""},
	}

	for _, tt := range tests {
		css, attr := SplitAttr(tt.in)
		if css != tt.css || attr != tt.attr {
			t.Errorf("SplitAttr(%q) = (%q, %q), want (%q, %q)", tt.in, css, attr, tt.css, tt.attr)
		}
	}
}

package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Loopxo/khoj/pkg/models"
)

func sampleResult() *models.ExtractionResult {
	return &models.ExtractionResult{
		Records: []models.Record{
			{"title": "Widget", "price": "$10"},
			{"title": "Gadget, large", "link": "/g"},
		},
		Metadata: models.ResultMetadata{ItemsExtracted: 2, EngineUsed: "http"},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleResult().Records); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "link,price,title\n,$10,Widget\n/g,,\"Gadget, large\"\n"
	if buf.String() != want {
		t.Fatalf("csv =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := decoded["records"]; !ok {
		t.Error("missing records key")
	}
	meta, ok := decoded["metadata"].(map[string]interface{})
	if !ok || meta["itemsExtracted"] != float64(2) {
		t.Errorf("metadata = %v", decoded["metadata"])
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "out.csv")
	if err := Save(sampleResult(), csvPath); err != nil {
		t.Fatalf("Save csv: %v", err)
	}
	data, _ := os.ReadFile(csvPath)
	if !strings.HasPrefix(string(data), "link,price,title") {
		t.Errorf("csv file = %q", data)
	}

	if err := Save(sampleResult(), filepath.Join(dir, "out.JSON")); err != nil {
		t.Fatalf("Save json: %v", err)
	}

	if err := Save(sampleResult(), filepath.Join(dir, "out.txt")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestMarkdown_ResolvesLinks(t *testing.T) {
	html := `<html><body><script>x()</script><h1>Shop</h1><a href="/cart" title="Cart">Cart</a></body></html>`
	out, err := Markdown(html, "https://shop.test/products")
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if !strings.Contains(out, "# Shop") {
		t.Errorf("missing heading in %q", out)
	}
	if !strings.Contains(out, `[Cart](https://shop.test/cart "Cart")`) {
		t.Errorf("link not resolved in %q", out)
	}
	if strings.Contains(out, "x()") {
		t.Errorf("script leaked into %q", out)
	}
}

func TestTree_KeepsSelectorHooks(t *testing.T) {
	out, err := Tree(`<div class="item" id="a1" onclick="evil()"><h2>Widget</h2></div>`)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if !strings.Contains(out, `<div class="item" id="a1">`) {
		t.Errorf("class/id should survive cleaning:\n%s", out)
	}
	if strings.Contains(out, "onclick") {
		t.Errorf("event handler should be stripped:\n%s", out)
	}
	if !strings.Contains(out, "Widget") {
		t.Errorf("text missing:\n%s", out)
	}
}

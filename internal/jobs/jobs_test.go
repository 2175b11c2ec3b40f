package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Loopxo/khoj/pkg/models"
)

const jobsYAML = `
defaults:
  engine: http
  timeout: 20s
  maxRetries: 1
jobs:
  - name: Widget List
    url: https://shop.test/widgets
    selectors:
      container: .item
      fields:
        title: h2
        image: img@src
  - id: spa
    url: https://spa.test/
    selectors:
      fields:
        heading: h1
    options:
      engine: stealth
      timeout: 45000
      antiBotConfig:
        delays: {min: 100, max: 300}
        cookies: {consent: "yes"}
`

func TestParse_FileWithDefaults(t *testing.T) {
	jobs, err := Parse([]byte(jobsYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}

	first := jobs[0]
	if first.ID != "widget-list" {
		t.Errorf("Expected slug id 'widget-list', got '%s'", first.ID)
	}
	if first.Options.Engine != models.EngineHTTP {
		t.Errorf("Expected default engine http, got %s", first.Options.Engine)
	}
	if time.Duration(first.Options.Timeout) != 20*time.Second {
		t.Errorf("Expected default timeout 20s, got %v", time.Duration(first.Options.Timeout))
	}
	if first.Options.Retries() != 1 {
		t.Errorf("Expected default retries 1, got %d", first.Options.Retries())
	}
	if first.Selectors.Fields["image"] != "img@src" {
		t.Errorf("Unexpected fields: %v", first.Selectors.Fields)
	}

	second := jobs[1]
	if second.Options.Engine != "stealth" {
		t.Errorf("Expected raw engine 'stealth', got %s", second.Options.Engine)
	}
	if time.Duration(second.Options.Timeout) != 45*time.Second {
		t.Errorf("Expected millisecond timeout 45s, got %v", time.Duration(second.Options.Timeout))
	}
	ab := second.Options.AntiBot
	if ab == nil || ab.Delay == nil || ab.Delay.Min != 100 || ab.Cookies["consent"] != "yes" {
		t.Errorf("Unexpected anti-bot config: %+v", ab)
	}
}

func TestParse_SingleJob(t *testing.T) {
	jobs, err := Parse([]byte("url: https://x.test\nselectors:\n  fields:\n    t: h1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" || jobs[0].URL != "https://x.test" {
		t.Errorf("Unexpected jobs: %+v", jobs)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":     "jobs: []\n",
		"no url":    "jobs:\n  - id: a\n",
		"duplicate": "jobs:\n  - {id: a, url: 'https://a.test'}\n  - {id: a, url: 'https://b.test'}\n",
		"garbage":   "::: not yaml",
	}
	for name, input := range tests {
		if _, err := Parse([]byte(input)); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte(jobsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	jobs, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Job{ID: "b"}, Job{ID: "a"})
	r.Put(Job{ID: "c"})

	if _, ok := r.Get("a"); !ok {
		t.Error("Expected job a")
	}
	list := r.List()
	if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
		t.Errorf("Unexpected list order: %+v", list)
	}
}

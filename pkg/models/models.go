package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine selects which fetch strategy (or cascade of strategies) runs an extraction
type Engine string

const (
	EngineAuto           Engine = "auto"
	EngineHTTP           Engine = "http"
	EngineBrowser        Engine = "browser"
	EngineStealthBrowser Engine = "stealth-browser"
)

// engineAliases maps accepted spellings onto canonical engines.
var engineAliases = map[string]Engine{
	"":                EngineAuto,
	"auto":            EngineAuto,
	"http":            EngineHTTP,
	"static":          EngineHTTP,
	"browser":         EngineBrowser,
	"chromium":        EngineBrowser,
	"playwright":      EngineBrowser,
	"puppeteer":       EngineBrowser,
	"stealth":         EngineStealthBrowser,
	"stealth-browser": EngineStealthBrowser,
}

// ParseEngine resolves an engine name, rejecting unknown values
func ParseEngine(s string) (Engine, error) {
	e, ok := engineAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown engine %q (must be auto, http, browser, or stealth-browser)", s)
	}
	return e, nil
}

// IsBrowser reports whether the engine needs a rendering browser up front
func (e Engine) IsBrowser() bool {
	return e == EngineBrowser || e == EngineStealthBrowser
}

// SelectorSpec describes how to turn a document into records.
// Field selectors may carry an "@attr" suffix to read an attribute instead of text.
type SelectorSpec struct {
	Container string            `json:"container,omitempty" yaml:"container,omitempty"`
	Fields    map[string]string `json:"fields" yaml:"fields"`

	// NoDocumentFallback disables the document-wide lookup used when a
	// field is empty inside its container.
	NoDocumentFallback bool `json:"noDocumentFallback,omitempty" yaml:"noDocumentFallback,omitempty"`
}

// ContainerOrDefault returns the container selector, defaulting to body
func (s SelectorSpec) ContainerOrDefault() string {
	if strings.TrimSpace(s.Container) == "" {
		return "body"
	}
	return s.Container
}

// Validate checks that the spec has at least one non-empty field selector
func (s SelectorSpec) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("selector spec needs at least one field")
	}
	for name, sel := range s.Fields {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("field name cannot be empty")
		}
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("field %q has an empty selector", name)
		}
	}
	return nil
}

// ProxyConfig lists proxies to route requests through
type ProxyConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Rotation  bool     `json:"rotation" yaml:"rotation"`
	Providers []string `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// Active reports whether a proxy should actually be used
func (p *ProxyConfig) Active() bool {
	return p != nil && p.Enabled && len(p.Providers) > 0
}

// DelayRange is an inclusive window in milliseconds
type DelayRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// AntiBotConfig tunes the per-request evasion policy
type AntiBotConfig struct {
	UserAgents []string          `json:"userAgents,omitempty" yaml:"userAgents,omitempty"`
	Delay      *DelayRange       `json:"delays,omitempty" yaml:"delays,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	Stealth    bool              `json:"stealth,omitempty" yaml:"stealth,omitempty"`
}

// Duration decodes from either a Go duration string ("30s") or a number of milliseconds
type Duration time.Duration

// UnmarshalJSON accepts "15s" or 15000
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalJSON writes the duration as milliseconds
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// UnmarshalYAML accepts "15s" or 15000
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// ExtractionOptions controls how an extraction runs. The zero value is usable.
type ExtractionOptions struct {
	Engine     Engine         `json:"engine,omitempty" yaml:"engine,omitempty"`
	Proxy      *ProxyConfig   `json:"proxyConfig,omitempty" yaml:"proxyConfig,omitempty"`
	AntiBot    *AntiBotConfig `json:"antiBotConfig,omitempty" yaml:"antiBotConfig,omitempty"`
	Screenshot bool           `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	Timeout    Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxRetries is nil for the default; an explicit 0 disables retries.
	MaxRetries *int `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
}

// Default option values
const (
	DefaultMaxRetries     = 3
	DefaultHTTPTimeout    = 15 * time.Second
	DefaultBrowserTimeout = 30 * time.Second
)

// Retries returns the effective retry budget
func (o ExtractionOptions) Retries() int {
	if o.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *o.MaxRetries
}

// TimeoutOr returns the configured timeout or the given fallback
func (o ExtractionOptions) TimeoutOr(fallback time.Duration) time.Duration {
	if o.Timeout > 0 {
		return time.Duration(o.Timeout)
	}
	return fallback
}

// Normalize canonicalizes the engine name and checks option invariants
func (o *ExtractionOptions) Normalize() error {
	engine, err := ParseEngine(string(o.Engine))
	if err != nil {
		return err
	}
	o.Engine = engine

	if o.MaxRetries != nil && *o.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0")
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	if o.AntiBot != nil && o.AntiBot.Delay != nil {
		d := o.AntiBot.Delay
		if d.Min < 0 || d.Max < d.Min {
			return fmt.Errorf("delay range must satisfy 0 <= min <= max (got %d-%d)", d.Min, d.Max)
		}
	}
	return nil
}

// ExtractionRequest is a single call to the orchestrator
type ExtractionRequest struct {
	URL       string            `json:"url" yaml:"url"`
	Selectors SelectorSpec      `json:"selectors" yaml:"selectors"`
	Options   ExtractionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// Record is one extracted item
type Record map[string]string

// ResultMetadata describes how a result was produced
type ResultMetadata struct {
	ItemsExtracted   int    `json:"itemsExtracted"`
	ExecutionTimeMs  int64  `json:"executionTimeMs"`
	EngineUsed       string `json:"engineUsed"`
	ScreenshotBase64 string `json:"screenshotBase64,omitempty"`
	ErrorCount       int    `json:"errorCount"`
	RetryCount       int    `json:"retryCount"`
}

// ExtractionResult holds records plus run metadata
type ExtractionResult struct {
	Records  []Record       `json:"records"`
	Metadata ResultMetadata `json:"metadata"`
}

// Package extract turns a parsed document and a selector spec into records.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Loopxo/khoj/pkg/models"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

var attrName = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)

// SelectorError reports a selector that could not be compiled
type SelectorError struct {
	Field    string
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid container selector %q: %v", e.Selector, e.Err)
	}
	return fmt.Sprintf("invalid selector %q for field %q: %v", e.Selector, e.Field, e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }

type field struct {
	name  string
	match cascadia.Selector
	attr  string
}

// Plan is a compiled selector spec. It is safe for concurrent use.
type Plan struct {
	container cascadia.Selector
	fields    []field
	fallback  bool
}

// Compile validates every selector in spec up front, so a malformed
// selector fails the whole extraction instead of a single field.
func Compile(spec models.SelectorSpec) (*Plan, error) {
	containerSel := spec.ContainerOrDefault()
	container, err := cascadia.Compile(containerSel)
	if err != nil {
		return nil, &SelectorError{Selector: containerSel, Err: err}
	}

	names := make([]string, 0, len(spec.Fields))
	for name := range spec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	plan := &Plan{container: container, fallback: !spec.NoDocumentFallback}
	for _, name := range names {
		raw := spec.Fields[name]
		css, attr := SplitAttr(raw)
		if strings.TrimSpace(css) == "" {
			return nil, &SelectorError{Field: name, Selector: raw, Err: fmt.Errorf("empty selector")}
		}
		m, err := cascadia.Compile(css)
		if err != nil {
			return nil, &SelectorError{Field: name, Selector: raw, Err: err}
		}
		plan.fields = append(plan.fields, field{name: name, match: m, attr: attr})
	}
	return plan, nil
}

// SplitAttr separates a trailing "@attr" from a field selector.
// An "@" that is not followed by a plain attribute name is part of the CSS.
func SplitAttr(sel string) (css, attr string) {
	sel = strings.TrimSpace(sel)
	i := strings.LastIndex(sel, "@")
	if i < 0 || !attrName.MatchString(sel[i+1:]) {
		return sel, ""
	}
	return strings.TrimSpace(sel[:i]), sel[i+1:]
}

// Run applies the plan to doc. Records whose fields are all empty are dropped.
func (p *Plan) Run(doc *goquery.Document) []models.Record {
	records := []models.Record{}
	if doc == nil {
		return records
	}

	doc.FindMatcher(p.container).Each(func(_ int, item *goquery.Selection) {
		rec := make(models.Record, len(p.fields))
		nonEmpty := false
		for _, f := range p.fields {
			v := f.read(item)
			if v == "" && p.fallback {
				v = f.read(doc.Selection)
			}
			if v != "" {
				nonEmpty = true
			}
			rec[f.name] = v
		}
		if nonEmpty {
			records = append(records, rec)
		}
	})
	return records
}

func (f field) read(scope *goquery.Selection) string {
	first := scope.FindMatcher(f.match).First()
	if first.Length() == 0 {
		return ""
	}
	if f.attr != "" {
		v, _ := first.Attr(f.attr)
		return strings.TrimSpace(v)
	}
	return Normalize(first.Text())
}

// Normalize collapses internal whitespace and trims the ends
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Extract compiles spec and runs it against doc
func Extract(doc *goquery.Document, spec models.SelectorSpec) ([]models.Record, error) {
	plan, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	return plan.Run(doc), nil
}

// FromHTML parses html and extracts records from it
func FromHTML(html string, spec models.SelectorSpec) ([]models.Record, error) {
	plan, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return plan.Run(doc), nil
}

// RunHTML parses html and applies the plan
func (p *Plan) RunHTML(html string) ([]models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return p.Run(doc), nil
}

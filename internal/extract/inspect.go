package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Summary is a quick description of a document, used when authoring selectors
type Summary struct {
	Title     string            `json:"title"`
	Meta      map[string]string `json:"meta,omitempty"`
	Links     int               `json:"links"`
	Images    int               `json:"images"`
	Scripts   int               `json:"scripts"`
	Framework string            `json:"framework,omitempty"`
}

// Summarize collects the title, meta tags and element counts of doc
func Summarize(doc *goquery.Document) Summary {
	s := Summary{Meta: map[string]string{}}
	if doc == nil {
		return s
	}
	s.Title = Normalize(doc.Find("title").First().Text())

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content, _ := sel.Attr("content")
		if name, ok := sel.Attr("name"); ok && name != "" {
			s.Meta[name] = content
		}
		if property, ok := sel.Attr("property"); ok && property != "" {
			s.Meta[property] = content
		}
	})

	s.Links = doc.Find("a[href]").Length()
	s.Images = doc.Find("img[src]").Length()
	s.Scripts = doc.Find("script").Length()

	html, _ := doc.Html()
	s.Framework = DetectFramework(html)
	return s
}

// DetectFramework guesses which client-side framework rendered html.
// It returns "" when no marker is found.
func DetectFramework(html string) string {
	html = strings.ToLower(html)
	markers := []struct{ name, marker string }{
		{"Next.js", "__next_data__"},
		{"Nuxt", "__nuxt"},
		{"React", "data-reactroot"},
		{"Angular", "ng-version"},
		{"Vue", "data-v-app"},
		{"Svelte", "svelte-"},
		{"Ember", "ember-application"},
	}
	for _, m := range markers {
		if strings.Contains(html, m.marker) {
			return m.name
		}
	}
	return ""
}

// LooksClientRendered reports whether html is probably an empty shell that
// needs a browser to produce content.
func LooksClientRendered(html string) bool {
	if DetectFramework(html) != "" {
		return true
	}
	lower := strings.ToLower(html)
	return strings.Count(lower, "<script") > 0 && strings.Count(lower, "<div") < 3
}

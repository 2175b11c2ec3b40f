package output

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// noise is removed before previewing a page
const noise = "script, style, link, meta, noscript, iframe, svg, canvas, form, input, button, select, textarea"

// keptAttrs lists attributes kept per tag; "*" applies to every element.
// class and id stay so selectors can be written against the preview.
var keptAttrs = map[string][]string{
	"*":   {"class", "id"},
	"a":   {"href", "title"},
	"img": {"src", "alt", "title"},
}

func keepAttr(tag, key string) bool {
	for _, k := range keptAttrs["*"] {
		if k == key {
			return true
		}
	}
	for _, k := range keptAttrs[tag] {
		if k == key {
			return true
		}
	}
	return false
}

// CleanHTML drops scripts, forms and presentational attributes from a document
func CleanHTML(src string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	doc.Find(noise).Remove()

	for _, n := range doc.Find("*").Nodes {
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			if keepAttr(n.Data, a.Key) {
				attrs = append(attrs, a)
			}
		}
		n.Attr = attrs
	}

	out, err := doc.Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Tree cleans src and returns its element outline
func Tree(src string) (string, error) {
	cleaned, err := CleanHTML(src)
	if err != nil {
		return "", err
	}
	root, err := html.Parse(strings.NewReader(cleaned))
	if err != nil {
		return "", err
	}
	return PrettyPrint(root), nil
}

// PrettyPrint writes one line per element or non-blank text node, indented by depth
func PrettyPrint(root *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		pad := strings.Repeat("  ", depth)
		switch n.Type {
		case html.DoctypeNode:
			fmt.Fprintf(&b, "<!DOCTYPE %s>\n", n.Data)
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				fmt.Fprintf(&b, "%s%s\n", pad, text)
			}
		case html.ElementNode:
			fmt.Fprintf(&b, "%s<%s", pad, n.Data)
			for _, a := range n.Attr {
				fmt.Fprintf(&b, " %s=%q", a.Key, a.Val)
			}
			b.WriteString(">\n")
			if voidElements[n.Data] {
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c, depth+1)
			}
			fmt.Fprintf(&b, "%s</%s>\n", pad, n.Data)
		case html.DocumentNode:
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c, depth)
			}
		}
	}
	walk(root, 0)
	return b.String()
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

package output

import (
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	urlutil "github.com/Loopxo/khoj/internal/utils/url"
)

// Markdown converts a fetched document to Markdown with links resolved against pageURL
func Markdown(html, pageURL string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	converter.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			href, exists := selec.Attr("href")
			if !exists {
				return nil
			}

			resolved := urlutil.ResolveURL(pageURL, href)
			title, hasTitle := selec.Attr("title")
			var titlePart string
			if hasTitle {
				titlePart = fmt.Sprintf(" %q", title)
			}
			str := fmt.Sprintf("[%s](%s)%s", selec.Text(), resolved, titlePart)
			return &str
		},
	})

	cleaned, err := CleanHTML(html)
	if err != nil {
		return "", err
	}
	return converter.ConvertString(cleaned)
}

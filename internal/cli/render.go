package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/engine"
	"github.com/Loopxo/khoj/internal/extract"
	"github.com/Loopxo/khoj/internal/orchestrator"
	"github.com/Loopxo/khoj/internal/ui"
	"github.com/Loopxo/khoj/internal/utils/output"
	urlutil "github.com/Loopxo/khoj/internal/utils/url"
	"github.com/Loopxo/khoj/pkg/models"
)

var (
	renderEngine string
	renderFormat string
)

var renderCmd = &cobra.Command{
	Use:   "render <url>",
	Short: "Preview a page to help write selectors",
	Long: `Fetches a page and prints it in a readable form so selectors can be written
against what the engine actually sees.

Formats:
  markdown   cleaned page content as Markdown (default)
  tree       element outline with class and id attributes
  summary    title, meta tags, detected framework and links
  html       the raw document`,
	Example: `  # See what plain HTTP returns
  khoj render https://example.com --engine=http

  # Outline the browser-rendered DOM
  khoj render https://app.example.com --engine=browser --format=tree`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderEngine, "engine", "e", "auto", "Engine: auto, http, browser, or stealth-browser")
	renderCmd.Flags().StringVar(&renderFormat, "format", "markdown", "Output format: markdown, tree, summary, or html")
}

// fetchForRender fetches req with its engine. Under auto a client-rendered
// HTTP response is fetched again with the browser.
func fetchForRender(ctx context.Context, c *engine.Cascade, req *models.ExtractionRequest) (*engine.Page, models.Engine, error) {
	e := req.Options.Engine
	if e == models.EngineAuto {
		e = models.EngineHTTP
	}
	s, ok := c.Strategy(e)
	if !ok {
		return nil, e, engine.ValidationError(fmt.Sprintf("engine %s is not available", e), engine.ErrNoStrategy)
	}
	page, err := s.Fetch(ctx, req)
	if err != nil && req.Options.Engine != models.EngineAuto {
		return nil, e, err
	}

	if req.Options.Engine == models.EngineAuto && (err != nil || extract.LooksClientRendered(page.HTML)) {
		browser, ok := c.Strategy(models.EngineBrowser)
		if !ok {
			return page, e, err
		}
		log.Debug().Str("url", req.URL).Msg("Page looks client-rendered, fetching with browser")
		page, err = browser.Fetch(ctx, req)
		return page, models.EngineBrowser, err
	}
	return page, e, nil
}

// renderPage formats page for reading
func renderPage(page *engine.Page, format string) (string, error) {
	base := page.FinalURL
	if base == "" {
		base = page.URL
	}

	switch strings.ToLower(format) {
	case "markdown", "md":
		return output.Markdown(page.HTML, base)
	case "tree":
		return output.Tree(page.HTML)
	case "html":
		return page.HTML, nil
	case "summary":
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			return "", err
		}
		return formatSummary(doc, base), nil
	default:
		return "", fmt.Errorf("unknown format %q (use markdown, tree, summary, or html)", format)
	}
}

func formatSummary(doc *goquery.Document, base string) string {
	s := extract.Summarize(doc)

	var b strings.Builder
	fmt.Fprintf(&b, "Title:      %s\n", s.Title)
	fmt.Fprintf(&b, "Framework:  %s\n", orDash(s.Framework))
	fmt.Fprintf(&b, "Links:      %d\n", s.Links)
	fmt.Fprintf(&b, "Images:     %d\n", s.Images)
	fmt.Fprintf(&b, "Scripts:    %d\n", s.Scripts)

	if len(s.Meta) > 0 {
		b.WriteString("\nMeta:\n")
		keys := make([]string, 0, len(s.Meta))
		for k := range s.Meta {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, s.Meta[k])
		}
	}

	hrefs := doc.Find("a[href]").Map(func(_ int, sel *goquery.Selection) string {
		href, _ := sel.Attr("href")
		return href
	})
	links := urlutil.ResolveAll(base, hrefs)
	if len(links) > 0 {
		b.WriteString("\nLinks:\n")
		for i, l := range links {
			if i == 20 {
				fmt.Fprintf(&b, "  ... and %d more\n", len(links)-20)
				break
			}
			fmt.Fprintf(&b, "  %s\n", l)
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runRender(cmd *cobra.Command, args []string) error {
	a := GetApp(cmd)

	req := &models.ExtractionRequest{
		URL:       args[0],
		Selectors: models.SelectorSpec{Fields: map[string]string{"body": "body"}},
		Options:   models.ExtractionOptions{Engine: models.Engine(renderEngine)},
	}
	if err := orchestrator.Validate(req); err != nil {
		return err
	}

	page, used, err := fetchForRender(cmd.Context(), a.Cascade, req)
	if err != nil {
		return err
	}
	out, err := renderPage(page, renderFormat)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s %s via %s (status %d)\n\n", ui.Bold("Rendered"), req.URL, used, page.StatusCode)
	fmt.Fprintln(os.Stdout, out)
	return nil
}

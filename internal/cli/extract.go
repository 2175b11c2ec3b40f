package cli

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/jobs"
	"github.com/Loopxo/khoj/internal/session"
	"github.com/Loopxo/khoj/internal/ui"
	"github.com/Loopxo/khoj/internal/utils/kv"
	"github.com/Loopxo/khoj/internal/utils/output"
	"github.com/Loopxo/khoj/pkg/models"
)

// extractFlags holds the flags of the extract command
type extractFlags struct {
	container      string
	fields         []string
	engine         string
	timeout        time.Duration
	retries        int
	screenshot     bool
	screenshotFile string
	proxies        []string
	rotate         bool
	userAgents     []string
	delay          string
	cookies        []string
	stealth        bool
	session        string
	output         string
	job            string
}

var extractOpts extractFlags

var extractCmd = &cobra.Command{
	Use:   "extract [url]",
	Short: "Extract records from a page with CSS selectors",
	Long: `Fetches a page and turns every match of the container selector into a record.

Each --field maps a record key to a selector relative to the container. Append
@attr to read an attribute instead of text (img@src, a@href). A field that is
empty inside its container is looked up in the whole document.

The auto engine tries plain HTTP first and falls back to a headless browser
when the HTTP response produces no records.`,
	Example: `  # Titles and prices from a product grid
  khoj extract https://shop.example.com --container=.item --field title=h2 --field price=.price

  # Force the browser engine and keep a screenshot
  khoj extract https://app.example.com --engine=browser --field name=.user --screenshot-file=page.png

  # Rotate proxies with a random 0.5-1.5s delay and save as CSV
  khoj extract https://example.com --field link=a@href --proxy=http://p1:8080 --proxy=http://p2:8080 --rotate --delay=500-1500 -o links.csv

  # Run a saved job definition with cookies from a stored session
  khoj extract --job=jobs/products.yaml --session=shop`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	bindExtractFlags(extractCmd, &extractOpts)
}

func bindExtractFlags(cmd *cobra.Command, o *extractFlags) {
	f := cmd.Flags()
	f.StringVarP(&o.container, "container", "c", "", "Selector for record containers (default: body)")
	f.StringArrayVarP(&o.fields, "field", "f", nil, "Field as name=selector, repeatable")
	f.StringVarP(&o.engine, "engine", "e", "auto", "Engine: auto, http, browser, or stealth-browser")
	f.DurationVarP(&o.timeout, "timeout", "t", 0, "Fetch timeout per attempt (default 15s http, 30s browser)")
	f.IntVar(&o.retries, "retries", models.DefaultMaxRetries, "Retries after the first attempt")
	f.BoolVar(&o.screenshot, "screenshot", false, "Capture a full-page PNG (browser engines)")
	f.StringVar(&o.screenshotFile, "screenshot-file", "", "Write the screenshot to this file (implies --screenshot)")
	f.StringArrayVar(&o.proxies, "proxy", nil, "Proxy URL, repeatable")
	f.BoolVar(&o.rotate, "rotate", false, "Pick a random proxy per request")
	f.StringArrayVar(&o.userAgents, "user-agent", nil, "User agent to rotate through, repeatable")
	f.StringVar(&o.delay, "delay", "", "Random delay range in ms before capture, as min-max")
	f.StringArrayVar(&o.cookies, "cookie", nil, "Cookie as name=value, repeatable")
	f.BoolVar(&o.stealth, "stealth", false, "Mark the request as stealth; use --engine=stealth-browser to run the stealth engine")
	f.StringVar(&o.session, "session", "", "Attach cookies from a saved session")
	f.StringVarP(&o.output, "output", "o", "", "Write the result to a .json or .csv file")
	f.StringVar(&o.job, "job", "", "Load the request from a job YAML file")
}

// buildRequest assembles the extraction request from a job file and flags.
// Flags the user set explicitly override values from the job.
func buildRequest(cmd *cobra.Command, args []string, o extractFlags) (*models.ExtractionRequest, error) {
	var req models.ExtractionRequest
	if o.job != "" {
		list, err := jobs.Load(o.job)
		if err != nil {
			return nil, err
		}
		if len(list) > 1 {
			return nil, fmt.Errorf("%s defines %d jobs; use `khoj batch` to run them", o.job, len(list))
		}
		req = list[0].ExtractionRequest
	}
	if len(args) == 1 {
		req.URL = args[0]
	}
	if req.URL == "" {
		return nil, errors.New("a URL argument or --job is required")
	}

	changed := cmd.Flags().Changed
	if changed("container") {
		req.Selectors.Container = o.container
	}
	if len(o.fields) > 0 {
		fields, err := kv.Parse(o.fields, "=")
		if err != nil {
			return nil, fmt.Errorf("--field: %w", err)
		}
		if req.Selectors.Fields == nil {
			req.Selectors.Fields = map[string]string{}
		}
		for k, v := range fields {
			req.Selectors.Fields[k] = v
		}
	}

	opts := &req.Options
	if changed("engine") || opts.Engine == "" {
		opts.Engine = models.Engine(o.engine)
	}
	if changed("timeout") {
		opts.Timeout = models.Duration(o.timeout)
	}
	if changed("retries") {
		n := o.retries
		opts.MaxRetries = &n
	}
	if o.screenshot || o.screenshotFile != "" {
		opts.Screenshot = true
	}
	if len(o.proxies) > 0 {
		opts.Proxy = &models.ProxyConfig{Enabled: true, Rotation: o.rotate, Providers: o.proxies}
	}

	antiBot := opts.AntiBot
	if antiBot == nil {
		antiBot = &models.AntiBotConfig{}
	}
	if len(o.userAgents) > 0 {
		antiBot.UserAgents = o.userAgents
	}
	if o.delay != "" {
		lo, hi, err := kv.Range(o.delay)
		if err != nil {
			return nil, fmt.Errorf("--delay: %w", err)
		}
		antiBot.Delay = &models.DelayRange{Min: lo, Max: hi}
	}
	if len(o.cookies) > 0 {
		cookies, err := kv.Parse(o.cookies, "=")
		if err != nil {
			return nil, fmt.Errorf("--cookie: %w", err)
		}
		if antiBot.Cookies == nil {
			antiBot.Cookies = map[string]string{}
		}
		for k, v := range cookies {
			antiBot.Cookies[k] = v
		}
	}
	if o.stealth {
		antiBot.Stealth = true
	}
	if antiBot.UserAgents != nil || antiBot.Delay != nil || antiBot.Cookies != nil || antiBot.Stealth {
		opts.AntiBot = antiBot
	}

	return &req, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	a := GetApp(cmd)
	req, err := buildRequest(cmd, args, extractOpts)
	if err != nil {
		return err
	}

	if extractOpts.session != "" {
		store, err := session.NewStore("")
		if err != nil {
			return err
		}
		sess, err := store.Load(extractOpts.session)
		if err != nil {
			return fmt.Errorf("load session %q: %w", extractOpts.session, err)
		}
		sess.Apply(&req.Options)
	}

	res, err := a.Orchestrator.Run(cmd.Context(), req)
	if err != nil {
		return err
	}

	if extractOpts.screenshotFile != "" && res.Metadata.ScreenshotBase64 != "" {
		png, err := base64.StdEncoding.DecodeString(res.Metadata.ScreenshotBase64)
		if err != nil {
			return fmt.Errorf("decode screenshot: %w", err)
		}
		if err := os.WriteFile(extractOpts.screenshotFile, png, 0o644); err != nil {
			return fmt.Errorf("write screenshot: %w", err)
		}
	}

	if extractOpts.output != "" {
		if err := output.Save(res, extractOpts.output); err != nil {
			return fmt.Errorf("save output: %w", err)
		}
		fmt.Fprintln(os.Stderr, ui.Success("✓ Saved to "+extractOpts.output))
	} else if err := output.WriteJSON(os.Stdout, res); err != nil {
		return err
	}

	m := res.Metadata
	fmt.Fprintf(os.Stderr, "%s %d items via %s in %dms (retries: %d)\n",
		ui.Bold("Done:"), m.ItemsExtracted, m.EngineUsed, m.ExecutionTimeMs, m.RetryCount)
	return nil
}

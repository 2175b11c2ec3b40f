package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/engine/dynamic"
	"github.com/Loopxo/khoj/internal/session"
	"github.com/Loopxo/khoj/internal/ui"
	"github.com/Loopxo/khoj/internal/utils/kv"
)

var (
	sessionURL       string
	sessionCookies   []string
	sessionFile      string
	sessionFormat    string
	sessionWait      string
	sessionTimeout   time.Duration
	sessionAssumeYes bool
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved cookie sessions",
	Long: `Save, list, view, and delete named cookie sets.

Sessions are stored in your OS keyring when one is available, otherwise as
files under ~/.khoj/sessions. Attach one to an extraction with --session.`,
	Example: `  # Save cookies by hand
  khoj sessions save shop --url=https://shop.example.com --cookie sid=abc123

  # Import a cookies.txt exported from your browser
  khoj sessions save shop --url=https://shop.example.com --file=cookies.txt --format=netscape

  # Log in with a visible browser and capture the cookies
  khoj sessions capture shop https://shop.example.com/login --wait="#account"

  # Use it
  khoj extract https://shop.example.com/orders --session=shop --field id=.order-id`,
}

var sessionsSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save cookies from flags or an exported file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsSave,
}

var sessionsCaptureCmd = &cobra.Command{
	Use:   "capture <name> <login-url>",
	Short: "Log in with a visible browser and save its cookies",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsCapture,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:     "show <name>",
	Aliases: []string{"view"},
	Short:   "Show details of a saved session",
	Args:    cobra.ExactArgs(1),
	RunE:    runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsSaveCmd, sessionsCaptureCmd, sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)

	sessionsSaveCmd.Flags().StringVar(&sessionURL, "url", "", "Site the cookies belong to")
	sessionsSaveCmd.Flags().StringArrayVar(&sessionCookies, "cookie", nil, "Cookie as name=value, repeatable")
	sessionsSaveCmd.Flags().StringVar(&sessionFile, "file", "", "Read cookies from a file (- for stdin)")
	sessionsSaveCmd.Flags().StringVar(&sessionFormat, "format", "json", "Cookie file format: json or netscape")

	sessionsCaptureCmd.Flags().StringVarP(&sessionWait, "wait", "w", "", "Selector that appears once logged in (otherwise press Enter)")
	sessionsCaptureCmd.Flags().DurationVar(&sessionTimeout, "login-timeout", 5*time.Minute, "Time allowed for logging in")

	sessionsDeleteCmd.Flags().BoolVarP(&sessionAssumeYes, "yes", "y", false, "Do not ask for confirmation")
}

// readCookies parses cookies from --cookie pairs and an optional exported file
func readCookies(pairs []string, r io.Reader, format string) ([]session.Cookie, error) {
	var cookies []session.Cookie
	if r != nil {
		var err error
		switch strings.ToLower(format) {
		case "json":
			cookies, err = session.ParseJSON(r)
		case "netscape":
			cookies, err = session.ParseNetscape(r)
		default:
			return nil, fmt.Errorf("unsupported format %q (use json or netscape)", format)
		}
		if err != nil {
			return nil, err
		}
	}

	m, err := kv.Parse(pairs, "=")
	if err != nil {
		return nil, fmt.Errorf("--cookie: %w", err)
	}
	for name, value := range m {
		cookies = append(cookies, session.Cookie{Name: name, Value: value, Path: "/"})
	}
	return cookies, nil
}

func runSessionsSave(cmd *cobra.Command, args []string) error {
	var r io.Reader
	switch sessionFile {
	case "":
	case "-":
		r = os.Stdin
	default:
		f, err := os.Open(sessionFile)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	cookies, err := readCookies(sessionCookies, r, sessionFormat)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		return fmt.Errorf("no cookies given; use --cookie or --file")
	}

	store, err := session.NewStore("")
	if err != nil {
		return err
	}
	s := session.FromCookies(args[0], sessionURL, cookies, time.Now())
	if err := store.Save(s); err != nil {
		return err
	}

	fmt.Println(ui.Success(fmt.Sprintf("✓ Session '%s' saved with %d cookies (%s)", s.Name, len(cookies), store.Backend())))
	return nil
}

func runSessionsCapture(cmd *cobra.Command, args []string) error {
	a := GetApp(cmd)

	fmt.Printf("\n%s\n", ui.Bold("Interactive Login"))
	fmt.Printf("  Session: %s\n  URL:     %s\n\n", args[0], args[1])

	s, err := session.Capture(cmd.Context(), session.CaptureOptions{
		Name:         args[0],
		URL:          args[1],
		ChromePath:   dynamic.FindChrome(a.Config.Browser.ChromePath),
		WaitSelector: sessionWait,
		Timeout:      sessionTimeout,
		Confirm: func() error {
			fmt.Println(ui.Info("Press Enter once you have completed login..."))
			_, err := bufio.NewReader(os.Stdin).ReadString('\n')
			return err
		},
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	store, err := session.NewStore("")
	if err != nil {
		return err
	}
	if err := store.Save(s); err != nil {
		return err
	}

	fmt.Println(ui.Success(fmt.Sprintf("✓ Captured %d cookies into session '%s'", len(s.Cookies), s.Name)))
	if !s.ExpiresAt.IsZero() {
		fmt.Printf("Session expires: %s\n", s.ExpiresAt.Format(time.RFC1123))
	}
	return nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := session.NewStore("")
	if err != nil {
		return err
	}
	names, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(names) == 0 {
		fmt.Println("\nNo saved sessions found.")
		fmt.Println("\nCreate one with:")
		fmt.Println("  khoj sessions save <name> --cookie name=value")
		fmt.Println()
		return nil
	}

	fmt.Printf("\n%s (%d, %s)\n\n", ui.Bold("Saved Sessions"), len(names), store.Backend())
	for _, name := range names {
		s, err := store.Load(name)
		switch {
		case s == nil:
			fmt.Printf("  %s  %s\n", name, ui.Error(err.Error()))
		case err != nil:
			fmt.Printf("  %s  %s  %d cookies  %s\n", name, s.URL, len(s.Cookies), ui.Warn("expired"))
		default:
			fmt.Printf("  %s  %s  %d cookies\n", ui.ColorCyan+name+ui.ColorReset, s.URL, len(s.Cookies))
		}
	}
	fmt.Println()
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := session.NewStore("")
	if err != nil {
		return err
	}
	s, err := store.Load(args[0])
	if s == nil {
		return err
	}

	fmt.Printf("\n%s %s\n\n", ui.Bold("Session:"), s.Name)
	fmt.Printf("URL:      %s\n", s.URL)
	fmt.Printf("Created:  %s\n", s.CreatedAt.Format(time.RFC1123))
	if !s.ExpiresAt.IsZero() {
		status := ui.Success("valid")
		if s.Expired(time.Now()) {
			status = ui.Warn("expired")
		}
		fmt.Printf("Expires:  %s (%s)\n", s.ExpiresAt.Format(time.RFC1123), status)
	}

	fmt.Printf("\nCookies (%d):\n", len(s.Cookies))
	for _, c := range s.Cookies {
		domain := c.Domain
		if domain == "" {
			domain = "-"
		}
		fmt.Printf("  • %s (domain: %s)\n", c.Name, domain)
	}
	fmt.Println()
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !sessionAssumeYes {
		fmt.Printf("Delete session '%s'? [y/N]: ", name)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	store, err := session.NewStore("")
	if err != nil {
		return err
	}
	if err := store.Delete(name); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Println(ui.Success(fmt.Sprintf("✓ Session '%s' deleted", name)))
	return nil
}

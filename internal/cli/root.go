package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/app"
	"github.com/Loopxo/khoj/internal/config"
	"github.com/Loopxo/khoj/internal/ui"
)

// shutdownTimeout bounds how long closing the application may take
const shutdownTimeout = 30 * time.Second

// activeApp is the application built for the running command. PostRun does
// not fire when a command fails, so Execute closes whatever is left here.
var activeApp *app.Application

func closeActiveApp() error {
	if activeApp == nil {
		return nil
	}
	a := activeApp
	activeApp = nil
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Close(ctx)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "khoj",
	Short: "Structured data extraction from static and JavaScript-rendered sites",
	Long: `Khoj fetches a page with the cheapest engine that works and turns it into
records using CSS selectors.

Plain HTTP is tried first; pages that render client-side fall back to a
pooled headless Chrome, and a stealth browser is available for sites that
fingerprint automation.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// SIGINT and SIGTERM cancel the command context so in-flight work unwinds.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if cerr := closeActiveApp(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.Error("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	// Initialize the application lazily so -h/--help never starts anything
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if GetApp(cmd) != nil {
			return nil
		}

		cfg, err := config.Load(cmd)
		if err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		SetApp(cmd, a)
		activeApp = a
		return nil
	}

	// Shut down pooled browsers and flush logs after every command
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return closeActiveApp()
	}
}

func init() {
	config.RegisterFlags(rootCmd)

	// Customize help and version flag descriptions
	rootCmd.Flags().BoolP("help", "h", false, "Help for Khoj")
	rootCmd.Flags().Bool("version", false, "Version for Khoj")
}

func init() {
	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		writeHelp(os.Stdout, cmd, true)
	})
	rootCmd.SetUsageFunc(func(cmd *cobra.Command) error {
		writeHelp(os.Stderr, cmd, false)
		return nil
	})
}

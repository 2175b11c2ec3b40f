package config

import "github.com/spf13/cobra"

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Log in JSON format")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to a rotating file")
	cmd.PersistentFlags().String("chrome-path", "", "Path to a Chrome/Chromium executable")
	cmd.PersistentFlags().Bool("headless", DefaultBrowserHeadless, "Run the standard browser headless")
	cmd.PersistentFlags().String("config", "", "Path to configuration file (optional)")
}

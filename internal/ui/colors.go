// Package ui styles terminal output for the CLI.
package ui

import "os"

// ANSI color and style constants for CLI output
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"

	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[97m"
	ColorRed    = "\033[31m"
)

// Enabled turns styling on or off. It starts off when NO_COLOR is set.
var Enabled = os.Getenv("NO_COLOR") == ""

func style(codes, s string) string {
	if !Enabled {
		return s
	}
	return codes + s + ColorReset
}

func Bold(s string) string    { return style(ColorBold, s) }
func Success(s string) string { return style(ColorGreen, s) }
func Warn(s string) string    { return style(ColorYellow, s) }
func Error(s string) string   { return style(ColorRed, s) }

// Info renders secondary text such as hints and durations
func Info(s string) string {
	return style(ColorDim+ColorYellow, s)
}

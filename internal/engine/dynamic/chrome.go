// internal/engine/dynamic/chrome.go
package dynamic

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"
)

// FindChrome locates a Chromium-family executable. An explicitly configured
// path wins, then CHROME_PATH, then well-known install locations, then PATH.
// It returns "" when nothing is found; chromedp then falls back to its own lookup.
func FindChrome(configured string) string {
	for _, src := range []struct{ name, path string }{
		{"config", configured},
		{"CHROME_PATH", os.Getenv("CHROME_PATH")},
	} {
		if src.path == "" {
			continue
		}
		if isExecutable(src.path) {
			log.Debug().Str("path", src.path).Str("source", src.name).Msg("Chrome found")
			return src.path
		}
		log.Warn().Str("path", src.path).Str("source", src.name).Msg("Configured Chrome path is not executable")
	}

	for _, path := range chromeCandidates(runtime.GOOS, os.Getenv("HOME")) {
		if isExecutable(path) {
			log.Debug().Str("path", path).Str("os", runtime.GOOS).Msg("Chrome found at standard location")
			return path
		}
	}

	for _, name := range []string{
		"google-chrome-stable", "google-chrome", "chromium", "chromium-browser",
		"chrome", "msedge", "brave", "brave-browser",
	} {
		if path, err := exec.LookPath(name); err == nil {
			log.Debug().Str("path", path).Msg("Chrome found in PATH")
			return path
		}
	}

	log.Warn().Str("os", runtime.GOOS).Msg("Chrome not found, relying on driver default lookup")
	return ""
}

func chromeCandidates(goos, home string) []string {
	switch goos {
	case "darwin":
		apps := []string{
			"Google Chrome.app/Contents/MacOS/Google Chrome",
			"Chromium.app/Contents/MacOS/Chromium",
			"Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"Brave Browser.app/Contents/MacOS/Brave Browser",
		}
		var out []string
		for _, app := range apps {
			out = append(out, filepath.Join("/Applications", app))
			if home != "" {
				out = append(out, filepath.Join(home, "Applications", app))
			}
		}
		return out

	case "windows":
		var out []string
		for _, base := range []string{os.Getenv("ProgramFiles"), os.Getenv("ProgramFiles(x86)"), os.Getenv("LocalAppData")} {
			if base == "" {
				continue
			}
			out = append(out,
				filepath.Join(base, "Google", "Chrome", "Application", "chrome.exe"),
				filepath.Join(base, "Chromium", "Application", "chrome.exe"),
				filepath.Join(base, "Microsoft", "Edge", "Application", "msedge.exe"),
			)
		}
		return out

	default:
		out := []string{
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
			"/usr/bin/microsoft-edge",
			"/usr/bin/brave-browser",
		}
		if home != "" {
			out = append(out,
				filepath.Join(home, ".local/share/flatpak/exports/bin/com.google.Chrome"),
				filepath.Join(home, ".local/share/flatpak/exports/bin/org.chromium.Chromium"),
			)
		}
		return out
	}
}

// isExecutable checks if a file exists and is executable
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

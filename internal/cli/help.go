package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/ui"
)

func heading(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", ui.Bold(title))
}

func cyan(s string) string {
	if !ui.Enabled {
		return s
	}
	return ui.ColorCyan + s + ui.ColorReset
}

func dim(s string) string {
	if !ui.Enabled {
		return s
	}
	return ui.ColorDim + s + ui.ColorReset
}

// writeHelp renders cmd's help page. The short form used for usage errors
// leaves out descriptions, examples and inherited flags.
func writeHelp(w io.Writer, cmd *cobra.Command, full bool) {
	if full {
		fmt.Fprintf(w, "\n%s\n", ui.Bold(cyan(strings.ToUpper(cmd.Name()))))
		if cmd.Short != "" {
			fmt.Fprintln(w, cmd.Short)
		}
		if cmd.Long != "" && cmd.Long != cmd.Short {
			fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(cmd.Long))
		}
	}

	heading(w, "Usage")
	if cmd.Runnable() {
		fmt.Fprintf(w, "  %s\n", cyan(cmd.UseLine()))
	}
	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "  %s <command> %s\n", cyan(cmd.CommandPath()), dim("[flags]"))
	}

	if full && cmd.HasExample() {
		heading(w, "Examples")
		writeExamples(w, cmd.Example)
	}

	if cmd.HasAvailableSubCommands() {
		heading(w, "Commands")
		var subs []*cobra.Command
		width := 0
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() && c.Name() != "help" {
				subs = append(subs, c)
				width = max(width, len(c.Name()))
			}
		}
		for _, c := range subs {
			fmt.Fprintf(w, "  %s%s%s\n", cyan(c.Name()), strings.Repeat(" ", width-len(c.Name())+2), dim(c.Short))
		}
	}

	if cmd.HasAvailableLocalFlags() {
		heading(w, "Flags")
		writeFlags(w, cmd.LocalFlags().FlagUsages())
	}
	if full && cmd.HasAvailableInheritedFlags() {
		heading(w, "Global Flags")
		writeFlags(w, cmd.InheritedFlags().FlagUsages())
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "\n%s\n", dim(fmt.Sprintf("Use \"%s <command> --help\" for more information about a command.", cmd.CommandPath())))
	} else if !full {
		fmt.Fprintf(w, "\n%s\n", dim(fmt.Sprintf("Use \"%s --help\" for more information.", cmd.CommandPath())))
	}
	fmt.Fprintln(w)
}

// writeExamples prints comment lines dimmed and commands with a prompt,
// leaving a blank line before each new comment block.
func writeExamples(w io.Writer, example string) {
	afterCommand := false
	for _, line := range strings.Split(example, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			if afterCommand {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "  %s\n", dim(line))
			afterCommand = false
		default:
			fmt.Fprintf(w, "  %s\n", ui.Success("$ "+line))
			afterCommand = true
		}
	}
}

// writeFlags realigns pflag's usage block so descriptions start in one column
func writeFlags(w io.Writer, usages string) {
	type row struct{ flag, desc string }
	var rows []row
	width := 28
	for _, line := range strings.Split(usages, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "-") {
			rows = append(rows, row{desc: trimmed})
			continue
		}
		flag, desc, _ := strings.Cut(trimmed, "  ")
		rows = append(rows, row{flag: flag, desc: strings.TrimSpace(desc)})
		width = max(width, len(flag))
	}

	for _, r := range rows {
		if r.flag == "" {
			fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", width+4), dim(r.desc))
			continue
		}
		fmt.Fprintf(w, "  %s%s%s\n", ui.Success(r.flag), strings.Repeat(" ", width-len(r.flag)+2), dim(r.desc))
	}
}

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldops/hnsync/internal/ui"
)

// flagColumn is the minimum width of the flag name column
const flagColumn = 28

// helpSection lists commands in the order they are used
type helpSection struct {
	title    string
	commands []string
}

var helpSections = []helpSection{
	{"Account", []string{"connect", "disconnect"}},
	{"Sync", []string{"sync"}},
	{"Results", []string{"orders", "trips", "inspect"}},
	{"Service", []string{"serve"}},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		writeHelp(cmd.OutOrStdout(), cmd)
	})
	rootCmd.SetUsageFunc(func(cmd *cobra.Command) error {
		writeUsage(cmd.ErrOrStderr(), cmd)
		return nil
	})
}

func writeHelp(w io.Writer, cmd *cobra.Command) {
	fmt.Fprintf(w, "\n%s\n", ui.Heading(strings.ToUpper(cmd.Name())))
	if cmd.Short != "" {
		fmt.Fprintln(w, cmd.Short)
	}
	if cmd.Long != "" && cmd.Long != cmd.Short {
		fmt.Fprintf(w, "\n%s\n", wrapText(cmd.Long, 80))
	}

	writeUsageLines(w, cmd)
	writeExamples(w, cmd.Example)
	writeCommands(w, cmd)
	if cmd.HasAvailableLocalFlags() {
		writeFlags(w, "Flags", cmd.LocalFlags().FlagUsages())
	}
	if cmd.HasAvailableInheritedFlags() {
		writeFlags(w, "Global Flags", cmd.InheritedFlags().FlagUsages())
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "\n%s\n", ui.Muted(fmt.Sprintf("Use %q for more information about a command.",
			cmd.CommandPath()+" <command> --help")))
	}
	fmt.Fprintln(w)
}

// writeUsage is the short form printed after a usage error
func writeUsage(w io.Writer, cmd *cobra.Command) {
	writeUsageLines(w, cmd)
	writeCommands(w, cmd)
	if cmd.HasAvailableLocalFlags() {
		writeFlags(w, "Flags", cmd.LocalFlags().FlagUsages())
	}
	fmt.Fprintf(w, "\n%s\n", ui.Muted(fmt.Sprintf("Use %q for more information.", cmd.CommandPath()+" --help")))
}

func writeUsageLines(w io.Writer, cmd *cobra.Command) {
	fmt.Fprintf(w, "\n%s\n", ui.Heading("Usage"))
	if cmd.Runnable() {
		fmt.Fprintf(w, "  %s\n", ui.Paint(ui.ColorCyan, cmd.UseLine()))
	}
	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "  %s %s %s\n",
			ui.Paint(ui.ColorCyan, cmd.CommandPath()),
			ui.Paint(ui.ColorYellow, "<command>"),
			ui.Muted("[flags]"))
	}
}

// writeExamples prints "#" lines as comments and everything else as a
// shell command, with a blank line before each new comment block
func writeExamples(w io.Writer, example string) {
	if strings.TrimSpace(example) == "" {
		return
	}
	fmt.Fprintf(w, "\n%s\n", ui.Heading("Examples"))
	afterCommand := false
	for _, line := range strings.Split(example, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			if afterCommand {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "  %s\n", ui.Muted(line))
			afterCommand = false
		default:
			fmt.Fprintf(w, "  %s\n", ui.Paint(ui.ColorGreen, "$ "+line))
			afterCommand = true
		}
	}
}

// writeCommands lists subcommands grouped by workflow step. Commands not
// named in any section are listed last.
func writeCommands(w io.Writer, cmd *cobra.Command) {
	if !cmd.HasAvailableSubCommands() {
		return
	}

	byName := map[string]*cobra.Command{}
	width := 0
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() || c.Name() == "help" {
			continue
		}
		byName[c.Name()] = c
		width = max(width, len(c.Name()))
	}

	section := func(title string, names []string) {
		var listed []*cobra.Command
		for _, name := range names {
			if c, ok := byName[name]; ok {
				listed = append(listed, c)
				delete(byName, name)
			}
		}
		if len(listed) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s\n", ui.Heading(title))
		for _, c := range listed {
			fmt.Fprintf(w, "  %s%s%s\n",
				ui.Paint(ui.ColorCyan, c.Name()),
				strings.Repeat(" ", width-len(c.Name())+2),
				ui.Muted(c.Short))
		}
	}

	for _, s := range helpSections {
		section(s.title+" Commands", s.commands)
	}
	var rest []string
	for _, c := range cmd.Commands() {
		if _, ok := byName[c.Name()]; ok {
			rest = append(rest, c.Name())
		}
	}
	section("Commands", rest)
}

// writeFlags re-aligns pflag's usage block and colors names and descriptions
func writeFlags(w io.Writer, title, usages string) {
	type row struct{ name, desc string }
	var rows []row
	width := flagColumn
	for _, line := range strings.Split(usages, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "-") {
			// continuation of a multi-line description
			rows = append(rows, row{desc: trimmed})
			continue
		}
		name, desc, _ := strings.Cut(trimmed, "  ")
		rows = append(rows, row{name: strings.TrimSpace(name), desc: strings.TrimSpace(desc)})
		width = max(width, len(rows[len(rows)-1].name))
	}

	fmt.Fprintf(w, "\n%s\n", ui.Heading(title))
	for _, r := range rows {
		if r.name == "" {
			fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", width+4), ui.Muted(r.desc))
			continue
		}
		fmt.Fprintf(w, "  %s%s%s\n",
			ui.Paint(ui.ColorGreen, r.name),
			strings.Repeat(" ", width-len(r.name)+2),
			ui.Muted(r.desc))
	}
}

// wrapText wraps each paragraph at width. List items ("-", "*", "•") keep
// their own line.
func wrapText(text string, width int) string {
	var paragraphs []string
	for _, para := range strings.Split(text, "\n\n") {
		var lines []string
		for _, line := range strings.Split(para, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "•") {
				lines = append(lines, line)
				continue
			}

			current := ""
			for _, word := range strings.Fields(line) {
				switch {
				case current == "":
					current = word
				case len(current)+1+len(word) <= width:
					current += " " + word
				default:
					lines = append(lines, current)
					current = word
				}
			}
			if current != "" {
				lines = append(lines, current)
			}
		}
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

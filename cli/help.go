package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/perchtools/perch/tui/theme"
)

const maxWidth = 72
const minWidth = 40

// getTerminalWidth returns the terminal width capped at maxWidth.
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < minWidth {
		return maxWidth
	}
	if width > maxWidth {
		return maxWidth
	}
	return width
}

// wrapText wraps text to the specified width, preserving existing line breaks.
func wrapText(text string, width int) string {
	if width <= 0 {
		width = maxWidth
	}

	var result []string
	for _, paragraph := range strings.Split(text, "\n") {
		if len(paragraph) <= width {
			result = append(result, paragraph)
			continue
		}

		var line string
		for _, word := range strings.Fields(paragraph) {
			if line == "" {
				line = word
			} else if len(line)+1+len(word) <= width {
				line += " " + word
			} else {
				result = append(result, line)
				line = word
			}
		}
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}

// SetStyledHelp applies consistent perch styling to a command's help output.
// Call this on the root command before Execute().
func SetStyledHelp(cmd *cobra.Command) {
	cmd.SetHelpFunc(styledHelpFunc)
}

func styledHelpFunc(cmd *cobra.Command, args []string) {
	t := theme.Default()
	width := getTerminalWidth()

	titleStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
	sectionStyle := lipgloss.NewStyle().Foreground(t.Muted).Bold(true)
	nameStyle := lipgloss.NewStyle().Foreground(t.Primary)

	var b strings.Builder

	b.WriteString(titleStyle.Render(cmd.Name()))
	if cmd.Short != "" {
		b.WriteString(" — " + cmd.Short)
	}
	b.WriteString("\n")
	if cmd.Long != "" {
		b.WriteString("\n" + wrapText(cmd.Long, width) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("Usage") + "\n")
	b.WriteString("  " + cmd.UseLine() + "\n")

	if cmd.HasAvailableSubCommands() {
		b.WriteString("\n" + sectionStyle.Render("Commands") + "\n")
		for _, sub := range cmd.Commands() {
			if !sub.IsAvailableCommand() {
				continue
			}
			b.WriteString(fmt.Sprintf("  %s %s\n",
				nameStyle.Render(fmt.Sprintf("%-12s", sub.Name())), sub.Short))
		}
	}

	if cmd.HasAvailableLocalFlags() {
		b.WriteString("\n" + sectionStyle.Render("Flags") + "\n")
		writeFlagSection(&b, cmd.LocalFlags(), nameStyle)
	}
	if cmd.HasAvailableInheritedFlags() {
		b.WriteString("\n" + sectionStyle.Render("Global Flags") + "\n")
		writeFlagSection(&b, cmd.InheritedFlags(), nameStyle)
	}

	fmt.Fprint(cmd.OutOrStdout(), b.String())
}

func writeFlagSection(b *strings.Builder, flags *pflag.FlagSet, nameStyle lipgloss.Style) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		name := "--" + f.Name
		if f.Shorthand != "" {
			name = "-" + f.Shorthand + ", " + name
		}
		usage := f.Usage
		if f.DefValue != "" && f.Value.Type() != "bool" {
			usage += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		b.WriteString(fmt.Sprintf("  %s %s\n",
			nameStyle.Render(fmt.Sprintf("%-20s", name)), usage))
	})
}

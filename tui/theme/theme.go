// Package theme holds the shared color palette for perch's terminal output.
package theme

import "github.com/charmbracelet/lipgloss"

// Kanagawa Dragon (dark) palette
const (
	green      = "#98BB6C"
	yellow     = "#FF9E3B"
	red        = "#FF5D62"
	cyan       = "#7E9CD8"
	blue       = "#7FB4CA"
	lightText  = "#DCD7BA"
	mutedText  = "#727169"
	border     = "#363646"
	selectedBg = "#223249"
)

// Theme is the set of colors the CLI and TUI draw with.
type Theme struct {
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Active     lipgloss.Color
	Waiting    lipgloss.Color
	Error      lipgloss.Color
	Text       lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	SelectedBg lipgloss.Color
}

// Default returns the perch theme.
func Default() *Theme {
	return &Theme{
		Primary:    lipgloss.Color(blue),
		Accent:     lipgloss.Color(cyan),
		Active:     lipgloss.Color(green),
		Waiting:    lipgloss.Color(yellow),
		Error:      lipgloss.Color(red),
		Text:       lipgloss.Color(lightText),
		Muted:      lipgloss.Color(mutedText),
		Border:     lipgloss.Color(border),
		SelectedBg: lipgloss.Color(selectedBg),
	}
}

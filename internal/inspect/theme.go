// Package inspect renders entry point provenance and init outcomes for the
// terminal.
package inspect

import "github.com/charmbracelet/lipgloss"

// Theme centralizes the report styling.
type Theme struct {
	OK     lipgloss.Style
	Failed lipgloss.Style
	Warn   lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
}

// NewDefaultTheme returns the standard colors. Colors degrade to plain text
// when the output is not a terminal.
func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),

		Border: lipgloss.NewStyle().Foreground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")).
			Padding(0, 1),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// cell pads body cells to line up with the padded headers.
var cell = lipgloss.NewStyle().Padding(0, 1)

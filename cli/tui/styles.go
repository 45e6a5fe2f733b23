package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/webverify/webverify/trust"
)

var (
	// Status colors.
	colorVerified    = lipgloss.Color("#A3BE8C")
	colorFailure     = lipgloss.Color("#FF0000")
	colorUnverified  = lipgloss.Color("#808080")
	colorCacheMiss   = lipgloss.Color("#FFD700")
	colorUnsupported = lipgloss.Color("#FF8C00")

	// UI colors.
	colorTitle    = lipgloss.Color("#FFFFFF")
	colorSubtle   = lipgloss.Color("#666666")
	colorSelected = lipgloss.Color("#7D56F4")

	// Styles.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTitle)

	subtleStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSelected)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorSubtle)

	keyIDStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#AAAAAA"))

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#88C0D0"))

	errorStyle = lipgloss.NewStyle().
			Foreground(colorFailure)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#B48EAD"))
)

// statusStyle returns the style for an outcome status.
func statusStyle(s trust.Status) lipgloss.Style {
	var color lipgloss.Color
	switch s {
	case trust.StatusVerified:
		color = colorVerified
	case trust.StatusFailure:
		color = colorFailure
	case trust.StatusCacheMiss:
		color = colorCacheMiss
	case trust.StatusUnsupportedCapture:
		color = colorUnsupported
	default:
		color = colorUnverified
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// statusBadge returns a short status string for list display.
func statusBadge(s trust.Status, pending bool) string {
	if pending {
		return subtleStyle.Render(" ... ")
	}
	style := statusStyle(s)
	switch s {
	case trust.StatusVerified:
		return style.Render("  OK ")
	case trust.StatusFailure:
		return style.Render(" FAIL")
	case trust.StatusCacheMiss:
		return style.Render(" MISS")
	case trust.StatusUnsupportedCapture:
		return style.Render(" UNSP")
	default:
		return style.Render(" NONE")
	}
}

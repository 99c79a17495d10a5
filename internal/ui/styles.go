package ui

import "github.com/charmbracelet/lipgloss"

var (
	panelBorder     = lipgloss.Color("#2D6A80")
	accentPrimary   = lipgloss.Color("#50E3C2")
	accentSecondary = lipgloss.Color("#F6AE2D")
	mutedText       = lipgloss.Color("#8CA1AE")
	warningText     = lipgloss.Color("#FF6B6B")
)

var (
	headerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(accentPrimary)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentSecondary).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(warningText).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(accentPrimary).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1).
			Width(18)

	// Cards flash with this style while the reading is highlighted
	cardBlinkStyle = cardStyle.Copy().
			BorderForeground(accentSecondary).
			Bold(true)

	tabStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(mutedText)

	activeTabStyle = tabStyle.Copy().
			Foreground(accentPrimary).
			Bold(true).
			Underline(true)
)

func renderPanel(title, body string, width int) string {
	style := panelStyle.Copy()
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(panelTitleStyle.Render(title) + "\n" + body)
}

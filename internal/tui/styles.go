package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/automenu/internal/events"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	tabStyle       = lipgloss.NewStyle().Padding(0, 1)
	activeTabStyle = tabStyle.Bold(true).Underline(true).Foreground(lipgloss.Color("205"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusPaused   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	transcriptBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("238"))
)

var severityStyles = map[events.Severity]lipgloss.Style{
	events.SeverityInfo:       lipgloss.NewStyle(),
	events.SeverityError:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	events.SeveritySuccess:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
	events.SeverityWarning:    lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	events.SeveritySysInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Italic(true),
	events.SeveritySysWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
	events.SeveritySysError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
}

// renderLine styles a transcript line by severity.
func renderLine(text string, sev events.Severity) string {
	style, ok := severityStyles[sev]
	if !ok {
		return text
	}
	if sev.IsSystem() {
		text = "» " + text
	}
	return style.Render(text)
}

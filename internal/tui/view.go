package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	phaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC857")).
			Bold(true)

	gaugeFillStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96E6A1"))

	gaugeWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF8E53"))

	gaugeEmergencyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF6B6B")).
				Bold(true)

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	approvalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF6B6B")).
			Padding(0, 1)

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96E6A1")).
			Bold(true)

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)
)

// gaugeWidth is the budget gauge's bar width in cells.
const gaugeWidth = 40

// View renders the run view.
func (a *App) View() string {
	var b strings.Builder

	title := "rudder"
	if a.runID != "" {
		title += " · run " + a.runID
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(phaseStyle.Render(fmt.Sprintf("phase: %s", a.phase)))
	if a.emergency {
		b.WriteString("  ")
		b.WriteString(gaugeEmergencyStyle.Render("EMERGENCY"))
	}
	b.WriteString("\n\n")

	b.WriteString(a.renderGauge())
	b.WriteString("\n\n")

	for _, line := range a.log {
		b.WriteString(logStyle.Render(line))
		b.WriteString("\n")
	}

	if a.pending != nil {
		prompt := fmt.Sprintf("%s\n%s\napprove? [y/n]", a.pending.Tool, a.pending.Reason)
		b.WriteString("\n")
		b.WriteString(approvalStyle.Render(prompt))
		b.WriteString("\n")
	}

	if a.done {
		b.WriteString("\n")
		if a.failed {
			b.WriteString(failedStyle.Render("run failed"))
		} else {
			b.WriteString(doneStyle.Render("run completed"))
		}
		b.WriteString("\n")
	} else if a.pending == nil {
		b.WriteString("\n")
		b.WriteString(a.input.View())
		b.WriteString("\n")
	}

	return b.String()
}

// renderGauge draws the token budget bar.
func (a *App) renderGauge() string {
	if a.ceiling <= 0 {
		return logStyle.Render(fmt.Sprintf("tokens: %d (no ceiling)  cost: $%.4f", a.tokensUsed, a.cost))
	}

	frac := float64(a.tokensUsed) / float64(a.ceiling)
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * gaugeWidth)

	style := gaugeFillStyle
	switch {
	case frac >= 0.9:
		style = gaugeEmergencyStyle
	case frac >= 0.8:
		style = gaugeWarnStyle
	}

	bar := style.Render(strings.Repeat("█", filled)) +
		logStyle.Render(strings.Repeat("░", gaugeWidth-filled))
	return fmt.Sprintf("%s %5.1f%%  %d/%d tokens  $%.4f", bar, frac*100, a.tokensUsed, a.ceiling, a.cost)
}

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-watch-harness/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the scenario dashboard.
func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderSteps(),
	}

	if m.snap != nil && m.snap.WaitCount > 0 {
		sections = append(sections, m.renderWaitStats())
	}

	if m.failure != nil {
		sections = append(sections, m.renderFailure())
	}

	if m.showOutput {
		sections = append(sections, m.renderOutput())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" watch-harness │ %s │ Processes: %d │ Elapsed: %s ",
		GetOutcomeLabel(m.outcome),
		m.live,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Steps
// =============================================================================

func (m Model) renderSteps() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{
		sectionHeaderStyle.Render("Scenario Steps"),
		RenderKeyValue("Command", truncate(m.command, m.width-26)),
		RenderKeyValue("Target", truncate(m.target, m.width-26)),
		RenderProgressBar(m.Progress(), barWidth),
	}

	if m.snap == nil || len(m.snap.Steps) == 0 {
		rows = append(rows, dimStyle.Render("waiting for the first step..."))
	} else {
		for _, s := range m.snap.Steps {
			rows = append(rows, renderStepRow(s, m.width-8))
		}
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderStepRow(s stats.StepStat, width int) string {
	style := GetStepStyle(s.Status)
	line := fmt.Sprintf("%s %d. %-20s", StepIcon(s.Status), s.Index+1, s.Name)

	var detail string
	switch s.Status {
	case "passed", "failed":
		detail = formatMs(s.Duration)
	case "running":
		detail = "running"
	}

	row := style.Render(line) + " " + mutedStyle.Render(detail)
	if s.Error != "" {
		row += "\n    " + valueBadStyle.Render(truncate(firstLine(s.Error), width-4))
	}
	return row
}

// =============================================================================
// Wait Statistics
// =============================================================================

func (m Model) renderWaitStats() string {
	s := m.snap

	rows := []string{
		sectionHeaderStyle.Render("Rebuild Waits"),
		RenderKeyValue("Matched", fmt.Sprintf("%d", s.WaitCount)),
		RenderKeyValue("P50 (median)", formatMs(s.WaitP50)),
		RenderKeyValue("P95", formatMs(s.WaitP95)),
		RenderKeyValue("Max", formatMs(s.WaitMax)),
	}

	for _, outcome := range s.SortedOutcomes() {
		if outcome == "matched" {
			continue
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(outcome+":"),
			valueWarnStyle.Render(fmt.Sprintf("%d", s.Outcomes[outcome])),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Failure
// =============================================================================

func (m Model) renderFailure() string {
	lines := strings.Split(m.failure.Error(), "\n")
	if len(lines) > 8 {
		lines = append(lines[:8], "...")
	}

	rows := []string{sectionHeaderStyle.Render("Failure")}
	for _, l := range lines {
		rows = append(rows, valueBadStyle.Render(truncate(l, m.width-6)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Output Tail
// =============================================================================

func (m Model) renderOutput() string {
	rows := []string{sectionHeaderStyle.Render("Process Output")}

	if len(m.output) == 0 {
		rows = append(rows, dimStyle.Render("no output yet"))
	}
	for _, l := range m.output {
		prefix := dimStyle.Render(fmt.Sprintf("%-6s │ ", l.Stream))
		rows = append(rows, prefix+GetStreamStyle(l.Stream.String()).Render(truncate(l.Text, m.width-15)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"o: toggle output",
		"r: refresh",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: " + m.metricsAddr)
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

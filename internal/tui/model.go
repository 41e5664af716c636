package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-watch-harness/internal/logging"
	"github.com/randomizedcoder/go-watch-harness/internal/stats"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// DoneMsg reports the end of the scenario. The model renders the final
// state once and exits.
type DoneMsg struct {
	Outcome string
	Err     error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	command     string
	target      string
	metricsAddr string

	// Current state
	snap       *stats.Snapshot
	output     []logging.Line
	live       int
	outcome    string
	failure    error
	startTime  time.Time
	lastUpdate time.Time
	showOutput bool

	// Display options
	width  int
	height int

	statsSource  StatsSource
	outputSource OutputSource
	liveCount    func() int

	quitting bool
}

// StatsSource provides scenario progress.
type StatsSource interface {
	Snapshot() *stats.Snapshot
}

// OutputSource provides the tail of the watched process output.
type OutputSource interface {
	RecentLines(n int) []logging.Line
}

// Config holds TUI configuration.
type Config struct {
	Command      string
	Target       string
	MetricsAddr  string
	StatsSource  StatsSource
	OutputSource OutputSource
	// LiveCount reports how many watched processes are running.
	LiveCount func() int
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		command:      cfg.Command,
		target:       cfg.Target,
		metricsAddr:  cfg.MetricsAddr,
		statsSource:  cfg.StatsSource,
		outputSource: cfg.OutputSource,
		liveCount:    cfg.LiveCount,
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
		showOutput:   true,
		width:        80,
		height:       24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "o":
			m.showOutput = !m.showOutput
			return m, nil
		case "r":
			m = m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m = m.refresh()
		return m, tickCmd()

	case DoneMsg:
		m = m.refresh()
		m.outcome = msg.Outcome
		m.failure = msg.Err
		return m, tea.Quit

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest state from the configured sources.
func (m Model) refresh() Model {
	if m.statsSource != nil {
		m.snap = m.statsSource.Snapshot()
	}
	if m.outputSource != nil {
		m.output = m.outputSource.RecentLines(m.outputRows())
	}
	if m.liveCount != nil {
		m.live = m.liveCount()
	}
	m.lastUpdate = time.Now()
	return m
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the run started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// LiveProcesses returns the number of running watched processes.
func (m Model) LiveProcesses() int {
	return m.live
}

// Outcome returns the scenario outcome, or "" while it is running.
func (m Model) Outcome() string {
	return m.outcome
}

// Progress returns the fraction of finished steps (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.snap == nil || len(m.snap.Steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range m.snap.Steps {
		if s.Status == "passed" || s.Status == "failed" {
			done++
		}
	}
	return float64(done) / float64(len(m.snap.Steps))
}

// outputRows is how many output lines fit below the step list.
func (m Model) outputRows() int {
	steps := 0
	if m.snap != nil {
		steps = len(m.snap.Steps)
	}
	rows := m.height - steps - 18
	if rows < 5 {
		rows = 5
	}
	return rows
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendDone reports the scenario outcome to the TUI.
func SendDone(p *tea.Program, outcome string, err error) {
	if p != nil {
		p.Send(DoneMsg{Outcome: outcome, Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// truncate shortens s to width runes, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

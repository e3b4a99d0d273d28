// Package ui provides a TUI status screen for a fuzzing run.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// Snapshotter is satisfied by *engine.Engine. Defined here, on the
// consumer side, so ui never imports engine.
type Snapshotter interface {
	Snapshot() types.RunCountersSnapshot
}

// LogEntry represents a log message.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Dashboard is the main TUI model. It polls a Snapshotter on every
// tick rather than being pushed updates, since the engine's counters
// are plain atomics with no event stream.
type Dashboard struct {
	width  int
	height int

	engine    Snapshotter
	statsView *StatsView
	progress  *MutationProgressView
	spinner   *SpinnerProgress

	lastSnap types.RunCountersSnapshot

	logs    []LogEntry
	maxLogs int

	targetCmd    string
	mutationsMax int64

	tickCount int
	quitting  bool
}

// NewDashboard creates a new dashboard polling the given engine.
func NewDashboard(engine Snapshotter) *Dashboard {
	return &Dashboard{
		width:     80,
		height:    24,
		engine:    engine,
		statsView: NewStatsView(40, 15),
		progress:  NewMutationProgressView(70),
		spinner:   NewSpinnerProgress(),
		logs:      make([]LogEntry, 0, 100),
		maxLogs:   50,
	}
}

// SetTargetCmd sets the fuzzed command line to display.
func (d *Dashboard) SetTargetCmd(cmd string) {
	d.targetCmd = cmd
}

// SetMutationsMax sets the run's mutation ceiling so the progress view
// can render a bounded bar; 0 leaves it in unbounded spinner mode.
func (d *Dashboard) SetMutationsMax(max int64) {
	d.mutationsMax = max
}

// AddLog adds a log entry.
func (d *Dashboard) AddLog(level, message string) {
	entry := LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
	}

	d.logs = append(d.logs, entry)
	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
}

// --- Bubbletea Model interface ---

// TickMsg is sent on each animation tick.
type TickMsg time.Time

// Init initializes the model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.statsView.SetSize(d.width/3, d.height-10)
		d.progress.SetSize(d.width - 4)

	case TickMsg:
		d.tickCount++
		d.spinner.Tick()

		d.lastSnap = d.engine.Snapshot()
		d.progress.Update(d.lastSnap.MutationsCnt, d.mutationsMax, "")

		return d, tickCmd()
	}

	return d, nil
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	if d.width == 0 {
		return "loading..."
	}

	var b strings.Builder

	b.WriteString(d.renderHeader())
	b.WriteString("\n")

	mainContent := lipgloss.JoinHorizontal(
		lipgloss.Top,
		d.renderStatsPanel(),
		d.renderLogPanel(),
	)
	b.WriteString(mainContent)
	b.WriteString("\n")

	b.WriteString(d.renderProgress())
	b.WriteString("\n")

	b.WriteString(d.renderFooter())

	return b.String()
}

func (d *Dashboard) renderHeader() string {
	title := TitleStyle.Render("⚡ hfgo")

	var statusText string
	switch d.lastSnap.State {
	case types.StateStatic:
		statusText = RunningStyle.Render("● STATIC")
	case types.StateDynamicPre:
		statusText = RunningStyle.Render("● DYNAMIC-PRE")
	case types.StateDynamicMain:
		statusText = RunningStyle.Render("● DYNAMIC-MAIN")
	default:
		statusText = HelpStyle.Render("○ STARTING")
	}

	target := ""
	if d.targetCmd != "" {
		target = LabelStyle.Render("Target: ") + InfoStyle.Render(d.targetCmd)
	}

	leftSide := title + "  " + statusText
	rightSide := target

	padding := d.width - lipgloss.Width(leftSide) - lipgloss.Width(rightSide) - 2
	if padding < 0 {
		padding = 0
	}

	header := leftSide + strings.Repeat(" ", padding) + rightSide

	return BoxStyle.Width(d.width - 2).Render(header)
}

func (d *Dashboard) renderStatsPanel() string {
	return d.statsView.Render(d.lastSnap)
}

func (d *Dashboard) renderLogPanel() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("📝 Activity Log"))
	b.WriteString("\n\n")

	startIdx := 0
	if len(d.logs) > 8 {
		startIdx = len(d.logs) - 8
	}

	for i := startIdx; i < len(d.logs); i++ {
		log := d.logs[i]

		timeStr := log.Time.Format("15:04:05")

		var levelStyle lipgloss.Style
		switch log.Level {
		case "ERROR":
			levelStyle = ErrorStyle
		case "WARN":
			levelStyle = WarningStyle
		case "INFO":
			levelStyle = InfoStyle
		default:
			levelStyle = HelpStyle
		}

		line := fmt.Sprintf("%s %s %s",
			HelpStyle.Render(timeStr),
			levelStyle.Render(fmt.Sprintf("%-5s", log.Level)),
			log.Message,
		)

		if len(line) > d.width/2-10 {
			line = line[:d.width/2-13] + "..."
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	return LogPanelStyle.Width(d.width/2 - 4).Render(b.String())
}

func (d *Dashboard) renderProgress() string {
	return d.progress.Render()
}

func (d *Dashboard) renderFooter() string {
	helps := []string{RenderHelp("q", "quit")}
	return FooterStyle.Render(strings.Join(helps, "  "))
}

// Run starts the TUI application, blocking until the user quits.
func Run(d *Dashboard) error {
	p := tea.NewProgram(d, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram returns the tea.Program for external control.
func RunWithProgram(d *Dashboard) *tea.Program {
	return tea.NewProgram(d, tea.WithAltScreen())
}

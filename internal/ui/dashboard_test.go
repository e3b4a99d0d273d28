package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

type fakeSnapshotter struct {
	snap types.RunCountersSnapshot
}

func (f *fakeSnapshotter) Snapshot() types.RunCountersSnapshot { return f.snap }

func TestNewDashboard(t *testing.T) {
	d := NewDashboard(&fakeSnapshotter{})

	if d == nil {
		t.Fatal("NewDashboard returned nil")
	}
	if d.lastSnap.State != types.StateUnset {
		t.Errorf("expected StateUnset before first tick, got %v", d.lastSnap.State)
	}
}

func TestDashboard_AddLog(t *testing.T) {
	d := NewDashboard(&fakeSnapshotter{})

	d.AddLog("INFO", "message one")
	d.AddLog("ERROR", "message two")

	if len(d.logs) != 2 {
		t.Errorf("expected 2 logs, got %d", len(d.logs))
	}
	if d.logs[0].Level != "INFO" {
		t.Errorf("expected first log level INFO, got %s", d.logs[0].Level)
	}
	if d.logs[1].Message != "message two" {
		t.Errorf("expected second log message %q, got %q", "message two", d.logs[1].Message)
	}
}

func TestDashboard_LogTrimming(t *testing.T) {
	d := NewDashboard(&fakeSnapshotter{})
	d.maxLogs = 5

	for i := 0; i < 10; i++ {
		d.AddLog("INFO", "message")
	}

	if len(d.logs) != 5 {
		t.Errorf("expected %d logs after trimming, got %d", d.maxLogs, len(d.logs))
	}
}

func TestDashboard_UpdateTickPollsSnapshotter(t *testing.T) {
	fs := &fakeSnapshotter{snap: types.RunCountersSnapshot{
		RunCounters: types.RunCounters{MutationsCnt: 42, CrashesCnt: 1},
		State:       types.StateDynamicMain,
	}}
	d := NewDashboard(fs)

	model, cmd := d.Update(TickMsg(time.Now()))
	d = model.(*Dashboard)

	if cmd == nil {
		t.Fatal("expected a tick command to be scheduled")
	}
	if d.lastSnap.MutationsCnt != 42 {
		t.Errorf("expected MutationsCnt 42 after tick, got %d", d.lastSnap.MutationsCnt)
	}
	if d.lastSnap.State != types.StateDynamicMain {
		t.Errorf("expected StateDynamicMain after tick, got %v", d.lastSnap.State)
	}
}

func TestDashboard_QuitOnKeypress(t *testing.T) {
	d := NewDashboard(&fakeSnapshotter{})

	model, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	d2 := model.(*Dashboard)

	if !d2.quitting {
		t.Error("expected quitting to be set after 'q'")
	}
	if cmd == nil {
		t.Error("expected tea.Quit command after 'q'")
	}
}

func TestStatsView_RenderIncludesCounters(t *testing.T) {
	v := NewStatsView(40, 15)
	snap := types.RunCountersSnapshot{
		RunCounters: types.RunCounters{
			MutationsCnt:     100,
			CrashesCnt:       3,
			UniqueCrashesCnt: 2,
		},
		State:      types.StateDynamicMain,
		CorpusSize: 10,
		QueueSize:  5,
		Timestamp:  time.Now(),
	}

	out := v.Render(snap)
	if out == "" {
		t.Error("StatsView.Render returned empty string")
	}
}

func TestMutationProgressView_BoundedVsUnbounded(t *testing.T) {
	v := NewMutationProgressView(60)

	v.Update(10, 100, "1m0s")
	if !v.bounded {
		t.Error("expected bounded view when total > 0")
	}

	v.Update(10, 0, "")
	if v.bounded {
		t.Error("expected unbounded view when total == 0")
	}

	rendered := v.Render()
	if rendered == "" {
		t.Error("MutationProgressView.Render returned empty string")
	}
}

func TestProgressBar(t *testing.T) {
	p := NewProgressBar(50)

	p.SetProgress(0.5)
	p.SetETA("5m30s")

	rendered := p.Render()
	if rendered == "" {
		t.Error("ProgressBar Render returned empty string")
	}
	if len(rendered) < 10 {
		t.Error("ProgressBar Render output too short")
	}
}

func TestProgressBar_Bounds(t *testing.T) {
	p := NewProgressBar(50)

	p.SetProgress(-0.5)
	if p.percentage != 0 {
		t.Errorf("expected percentage clamped to 0, got %f", p.percentage)
	}

	p.SetProgress(1.5)
	if p.percentage != 1 {
		t.Errorf("expected percentage clamped to 1, got %f", p.percentage)
	}
}

func TestSpinnerProgress(t *testing.T) {
	s := NewSpinnerProgress()
	s.SetText("working...")

	if !s.running {
		t.Error("spinner should be running by default")
	}

	initialFrame := s.frame
	s.Tick()
	s.Tick()

	if s.frame == initialFrame {
		t.Error("spinner frame should change after Tick")
	}

	s.Stop()
	if s.running {
		t.Error("spinner should not be running after Stop")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.0K"},
		{1500, "1.5K"},
		{1000000, "1.0M"},
		{1500000, "1.5M"},
	}

	for _, tt := range tests {
		result := formatNumber(tt.input)
		if result != tt.expected {
			t.Errorf("formatNumber(%d): expected %s, got %s", tt.input, tt.expected, result)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
		{90 * time.Minute, "1h30m"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.input)
		if result != tt.expected {
			t.Errorf("formatDuration(%v): expected %s, got %s", tt.input, tt.expected, result)
		}
	}
}

func TestRateTracker_ComputesMutationsPerSecond(t *testing.T) {
	r := NewRateTracker()

	t0 := time.Now()
	r.Update(0, t0)
	rate := r.Update(100, t0.Add(time.Second))

	if rate != 100 {
		t.Errorf("expected rate 100/s, got %f", rate)
	}
}

func BenchmarkDashboard_View(b *testing.B) {
	fs := &fakeSnapshotter{snap: types.RunCountersSnapshot{
		RunCounters: types.RunCounters{MutationsCnt: 1000},
		State:       types.StateDynamicMain,
	}}
	d := NewDashboard(fs)
	d.width = 120
	d.height = 40

	for i := 0; i < 20; i++ {
		d.AddLog("INFO", "message")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.View()
	}
}

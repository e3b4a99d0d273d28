// Package ui provides statistics display components.
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// RateTracker derives a mutations-per-second rate from consecutive
// counter snapshots, since RunCountersSnapshot itself carries no rate.
type RateTracker struct {
	mu       sync.Mutex
	lastCnt  int64
	lastTime time.Time
	rate     float64
}

// NewRateTracker creates a tracker with no prior sample.
func NewRateTracker() *RateTracker {
	return &RateTracker{}
}

// Update folds a new mutation count into the tracker and returns the
// current mutations/sec estimate.
func (r *RateTracker) Update(mutationsCnt int64, now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastTime.IsZero() {
		elapsed := now.Sub(r.lastTime).Seconds()
		if elapsed > 0 {
			r.rate = float64(mutationsCnt-r.lastCnt) / elapsed
		}
	}
	r.lastCnt = mutationsCnt
	r.lastTime = now
	return r.rate
}

// Rate returns the last computed rate without updating it.
func (r *RateTracker) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}

// StatsView renders the statistics panel from an engine snapshot.
type StatsView struct {
	width  int
	height int
	rate   *RateTracker
	start  time.Time
}

// NewStatsView creates a new stats view.
func NewStatsView(width, height int) *StatsView {
	return &StatsView{
		width:  width,
		height: height,
		rate:   NewRateTracker(),
		start:  time.Now(),
	}
}

// SetSize updates the view size.
func (v *StatsView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// Render renders the stats view from a point-in-time engine snapshot.
func (v *StatsView) Render(snap types.RunCountersSnapshot) string {
	var b strings.Builder

	rate := v.rate.Update(snap.MutationsCnt, snap.Timestamp)

	b.WriteString(HeaderStyle.Render("📊 Run Counters"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Mutations", formatNumber(snap.MutationsCnt)))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("State", snap.State.String()))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Corpus Size", formatNumber(int64(snap.CorpusSize))))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Queue Size", formatNumber(int64(snap.QueueSize))))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("⚡ Throughput"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Mutations/s", fmt.Sprintf("%.1f", rate)))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Elapsed", formatDuration(time.Since(v.start))))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("🔍 Crashes"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Total", formatNumber(snap.CrashesCnt)))
	b.WriteString("\n")

	if snap.CrashesCnt > 0 {
		b.WriteString("  ")
		b.WriteString(CrashFatalStyle.Render(fmt.Sprintf("Unique: %d", snap.UniqueCrashesCnt)))
		b.WriteString(" | ")
		b.WriteString(CrashVerifiedStyle.Render(fmt.Sprintf("Verified: %d", snap.VerifiedCrashesCnt)))
		b.WriteString(" | ")
		b.WriteString(CrashBlacklistedStyle.Render(fmt.Sprintf("Blacklisted: %d", snap.BlCrashesCnt)))
		b.WriteString("\n")
	}
	if snap.TimeoutedCnt > 0 {
		b.WriteString(WarningStyle.Render(fmt.Sprintf("Timeouts: %d", snap.TimeoutedCnt)))
		b.WriteString("\n")
	}

	return StatsPanelStyle.Width(v.width).Render(b.String())
}

// Helper functions

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

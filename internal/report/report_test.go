package report

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxfuzzer/hfgo/internal/classifier"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

func TestSinkWritesCrashLine(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir, "report.jsonl")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	rec := classifier.Record{
		Fingerprint:  types.Fingerprint{Signal: types.SIGSEGV, PC: 0xdeadbeef},
		Pid:          1234,
		DiscoveredAt: time.Now(),
	}
	if err := sink.ReportCrash(rec, "/tmp/crashes/SIGSEGV.PID.1234.0.fuzz"); err != nil {
		t.Fatalf("ReportCrash: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "report.jsonl"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var got CrashLine
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Pid != 1234 || got.Signal != "SIGSEGV" {
		t.Fatalf("unexpected crash line: %+v", got)
	}
}

func TestSinkWritesSummaryAndResumeReadsIt(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.jsonl")
	sink, err := New(dir, "report.jsonl")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := types.RunCountersSnapshot{
		RunCounters: types.RunCounters{
			MutationsCnt:     42,
			CrashesCnt:       3,
			UniqueCrashesCnt: 2,
			TimeoutedCnt:     1,
		},
		State:      types.StateDynamicMain,
		CorpusSize: 5,
		QueueSize:  7,
	}
	if err := sink.WriteSummary(snap); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	sink.Close()

	counters, err := ReadResumeCounters(reportPath)
	if err != nil {
		t.Fatalf("ReadResumeCounters: %v", err)
	}
	if counters.MutationsCnt != 42 || counters.CrashesCnt != 3 || counters.UniqueCrashesCnt != 2 || counters.TimeoutedCnt != 1 {
		t.Fatalf("unexpected resumed counters: %+v", counters)
	}
}

func TestResumeReadsLastLineWhenMultiplePresent(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.jsonl")
	sink, err := New(dir, "report.jsonl")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = sink.WriteSummary(types.RunCountersSnapshot{RunCounters: types.RunCounters{MutationsCnt: 1}})
	_ = sink.WriteSummary(types.RunCountersSnapshot{RunCounters: types.RunCounters{MutationsCnt: 99}})
	sink.Close()

	counters, err := ReadResumeCounters(reportPath)
	if err != nil {
		t.Fatalf("ReadResumeCounters: %v", err)
	}
	if counters.MutationsCnt != 99 {
		t.Fatalf("expected last-line counters (99), got %d", counters.MutationsCnt)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Package report implements the ReportSink: append-only,
// newline-delimited crash reports plus a run-level summary-counters
// line appended to the same file at shutdown. Generalized from a json.Encoder-based
// "web-fuzzing anomaly report" idiom to "crash report + run summary":
// stable, human-readable, newline-delimited text rather than a
// rendered multi-format document, so the JSON encoding is applied
// per-line instead of per-document and there is no HTML/Markdown
// rendering stage.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fluxfuzzer/hfgo/internal/classifier"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// CrashLine is one newline-delimited record appended to the per-crash
// report file for every saved crash artifact.
type CrashLine struct {
	Signal        string    `json:"signal"`
	PC            uint64    `json:"pc,omitempty"`
	BacktraceHash uint64    `json:"backtrace_hash,omitempty"`
	Pid           int       `json:"pid"`
	ArtifactPath  string    `json:"artifact_path"`
	Stable        bool      `json:"stable"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	// ReportText is the target's captured stderr at crash time (≤ 8
	// KiB), empty when nullify_stdio discarded the child's output.
	ReportText string `json:"report_text,omitempty"`
}

// Summary is the run-level counters snapshot written once at
// shutdown.
type Summary struct {
	types.RunCounters
	State      string    `json:"state"`
	CorpusSize int       `json:"corpus_size"`
	QueueSize  int       `json:"queue_size"`
	WrittenAt  time.Time `json:"written_at"`
}

// Sink implements engine.CrashSink: it appends a CrashLine per crash
// and can write the final run summary. One Sink instance is shared by
// every worker; writes are serialized by mu rather than aggregated
// from per-worker buffers, since os.File.Write is already atomic
// enough for our append-only line granularity.
type Sink struct {
	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	webhook *WebhookNotifier // optional, nil when unconfigured
}

// New creates a Sink appending to reportPath (created if missing) inside
// workDir if reportPath is relative, or at the absolute path given.
func New(workDir, reportPath string) (*Sink, error) {
	if reportPath == "" {
		reportPath = "report.jsonl"
	}
	if !filepath.IsAbs(reportPath) {
		reportPath = filepath.Join(workDir, reportPath)
	}
	f, err := os.OpenFile(reportPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: open %s: %w", reportPath, err)
	}
	return &Sink{f: f, enc: json.NewEncoder(f)}, nil
}

// WithWebhook attaches an optional webhook notifier that is POSTed to
// on every crash reported to the Sink (only newly unique ones when
// save_unique is on, every saved crash otherwise).
func (s *Sink) WithWebhook(w *WebhookNotifier) *Sink {
	s.webhook = w
	return s
}

// ReportCrash implements engine.CrashSink.
func (s *Sink) ReportCrash(rec classifier.Record, artifactPath string) error {
	line := CrashLine{
		Signal:        rec.Fingerprint.Signal.String(),
		PC:            rec.Fingerprint.PC,
		BacktraceHash: rec.Fingerprint.BacktraceHash,
		Pid:           rec.Pid,
		ArtifactPath:  artifactPath,
		Stable:        rec.Stable,
		DiscoveredAt:  rec.DiscoveredAt,
		ReportText:    string(rec.ReportText),
	}

	s.mu.Lock()
	err := s.enc.Encode(line)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("report: write crash line: %w", err)
	}

	if s.webhook != nil {
		s.webhook.Notify(line)
	}
	return nil
}

// WriteSummary writes the one run-level summary record that the
// report file receives when the engine shuts down.
func (s *Sink) WriteSummary(snap types.RunCountersSnapshot) error {
	sum := Summary{
		RunCounters: snap.RunCounters,
		State:       snap.State.String(),
		CorpusSize:  snap.CorpusSize,
		QueueSize:   snap.QueueSize,
		WrittenAt:   time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(sum); err != nil {
		return fmt.Errorf("report: write summary: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying report file.
func (s *Sink) Close() error {
	return s.f.Close()
}

// Package classifier implements the CrashClassifier: classify() turns
// a wait4() status into Boring/Timeout/Interesting, verify()
// re-executes an offending input to confirm stability, and the
// uniqueness triple (signal, PC, backtrace hash) gates which crashes
// get written to disk. The duplicate-fingerprint check is the same
// shape as a duplicate-input-hash check, generalized from "duplicate
// input hash" to "duplicate crash fingerprint triple"; the
// backtrace-hash falls back to a SimHash (internal/fuzzyhash) when no
// stack unwinder is wired.
package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fluxfuzzer/hfgo/internal/fuzzyhash"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// Outcome is the result of classify().
type Outcome int

const (
	OutcomeBoring Outcome = iota
	OutcomeTimeout
	OutcomeInteresting
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTimeout:
		return "timeout"
	case OutcomeInteresting:
		return "interesting"
	default:
		return "boring"
	}
}

// Status is the subset of a wait4() result classify() needs.
type Status struct {
	Exited   bool
	ExitCode int
	Signaled bool
	Signal   types.Signal
	TimedOut bool
}

// BackendData carries whatever the FeedbackBackend observed this
// iteration that classify() can use to build a fingerprint: a program
// counter when available, and raw backtrace text to hash when no
// unwinder produced a PC.
type BackendData struct {
	PC            uint64
	BacktraceText []byte
}

// Record is the CrashRecord produced for Interesting outcomes.
type Record struct {
	Fingerprint  types.Fingerprint
	Input        []byte
	Pid          int
	DiscoveredAt time.Time
	Stable       bool
	// ReportText is the captured report buffer (≤ 8 KiB) that produced
	// Fingerprint.BacktraceHash when no PC was available, kept on the
	// record so the ReportSink can persist it alongside the artifact.
	ReportText []byte
}

// Classify implements classify(status, backend_data, cmdline) ->
// Outcome.
func Classify(status Status, data BackendData) Outcome {
	if status.TimedOut {
		return OutcomeTimeout
	}
	if status.Exited {
		return OutcomeBoring
	}
	if status.Signaled && status.Signal.Interesting() {
		return OutcomeInteresting
	}
	return OutcomeBoring
}

// Fingerprint builds the uniqueness triple for an Interesting outcome.
// When data.PC is zero (no unwinder wired), it falls back to a
// SimHash of the raw backtrace text so that distinguishable crashes
// still usually produce distinguishable fingerprints.
func Fingerprint(signal types.Signal, data BackendData) types.Fingerprint {
	bt := data.PC
	if bt == 0 && len(data.BacktraceText) > 0 {
		sh := fuzzyhash.NewSimHash(64)
		bt = sh.Hash(data.BacktraceText)
	}
	return types.Fingerprint{Signal: signal, PC: data.PC, BacktraceHash: bt}
}

// RelaunchFunc re-executes the offending input and returns the
// fingerprint observed on that relaunch.
type RelaunchFunc func(input []byte) (types.Fingerprint, error)

// Verify implements verify(record, relaunch_fn): re-executes up to
// five times, marking the crash stable iff every relaunch reproduces
// the same fingerprint.
func Verify(record *Record, relaunch RelaunchFunc) error {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		fp, err := relaunch(record.Input)
		if err != nil {
			record.Stable = false
			return err
		}
		if fp != record.Fingerprint {
			record.Stable = false
			return nil
		}
	}
	record.Stable = true
	return nil
}

// Tracker keeps the in-memory set of unique crash fingerprints seen
// this run and writes exclusive-create crash artifacts for new ones.
type Tracker struct {
	mu        sync.Mutex
	seen      map[types.Fingerprint]struct{}
	workDir   string
	extension string
}

// NewTracker creates a Tracker that writes crash artifacts under
// workDir/crashes, using extension for the artifact filename suffix.
func NewTracker(workDir, extension string) *Tracker {
	if extension == "" {
		extension = ".fuzz"
	}
	return &Tracker{
		seen:      make(map[types.Fingerprint]struct{}),
		workDir:   workDir,
		extension: extension,
	}
}

// Offer records fp as seen and, if it is new, writes a crash artifact
// for input named by signal/pid/timestamp/extension using O_EXCL
// creation. dryRunSuffix, when non-empty, is appended to the artifact
// stem to avoid the save-name collision that occurs when multiple
// workers hit the same deterministic crash at flip_rate 0 under the
// verifier: pass fmt.Sprintf(".w%d", workerID) when
// origFlipRate==0 && useVerifier.
//
// Returns (isNew, artifactPath, err). A nil err with isNew==false
// means another worker already claimed this fingerprint or beat this
// worker to the O_EXCL create.
func (t *Tracker) Offer(fp types.Fingerprint, pid int, input []byte, dryRunSuffix string) (bool, string, error) {
	t.mu.Lock()
	if _, exists := t.seen[fp]; exists {
		t.mu.Unlock()
		return false, "", nil
	}
	t.seen[fp] = struct{}{}
	t.mu.Unlock()

	dir := filepath.Join(t.workDir, "crashes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, "", err
	}

	name := fmt.Sprintf("%s.PID.%d.TIME.%s%s%s",
		fp.Signal.String(), pid, time.Now().Format("2006-01-02.15:04:05"), dryRunSuffix, t.extension)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Another worker's O_EXCL create won the race for this exact
			// name; treat as "already claimed" rather than an error.
			return false, "", nil
		}
		return false, "", err
	}
	defer f.Close()

	if _, err := f.Write(input); err != nil {
		return false, "", err
	}
	return true, path, nil
}

// UniqueCount reports how many distinct fingerprints have been seen.
func (t *Tracker) UniqueCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Package types defines common data structures shared across hfgo's
// packages.
package types

import "time"

// MutationType identifies the family of mutation applied to a buffer.
type MutationType int

const (
	BitFlip          MutationType = iota // single/double/quad bit flip
	ByteFlip                             // single/double/quad byte XOR
	Arithmetic                           // add/subtract a small delta
	InterestingValue                     // boundary-value substitution
	DictionaryInsert                     // dictionary-token splice
	ExternalCommand                      // delegate to an external mutator process
)

// String returns the human-readable mutation family name.
func (t MutationType) String() string {
	switch t {
	case BitFlip:
		return "bitflip"
	case ByteFlip:
		return "byteflip"
	case Arithmetic:
		return "arithmetic"
	case InterestingValue:
		return "interesting"
	case DictionaryInsert:
		return "dict"
	case ExternalCommand:
		return "external"
	default:
		return "unknown"
	}
}

// FuzzState is the engine's monotone fuzzing state.
type FuzzState int32

const (
	StateUnset FuzzState = iota
	StateStatic
	StateDynamicPre
	StateDynamicMain
)

func (s FuzzState) String() string {
	switch s {
	case StateStatic:
		return "static"
	case StateDynamicPre:
		return "dynamic-pre"
	case StateDynamicMain:
		return "dynamic-main"
	default:
		return "unset"
	}
}

// DynFileMethod records which FeedbackBackend variant produced new
// coverage, mirroring honggfuzz's dynFileMethod_t bitmask.
type DynFileMethod uint32

const (
	DynFileNone        DynFileMethod = 0
	DynFileInstrCount  DynFileMethod = 1 << 0
	DynFileBranchCount DynFileMethod = 1 << 1
	DynFileBBBlock     DynFileMethod = 1 << 3
	DynFileCustom      DynFileMethod = 1 << 6
	DynFileSoft        DynFileMethod = 1 << 7
)

// HWCounts mirrors honggfuzz's hwcnt_t: per-iteration hardware and
// software counter readings.
type HWCounts struct {
	CPUInstrCnt  uint64
	CPUBranchCnt uint64
	BBCnt        uint64
	NewBBCnt     uint64
	SoftCntPc    uint64
	SoftCntCmp   uint64
}

// SancovCounts mirrors honggfuzz's sancovcnt_t.
type SancovCounts struct {
	HitBBCnt   uint64
	TotalBBCnt uint64
	DSOCnt     uint64
	NewBBCnt   uint64
}

// Signal is the subset of POSIX signals the classifier treats as
// "interesting".
type Signal int

const (
	SIGILL  Signal = 4
	SIGABRT Signal = 6
	SIGFPE  Signal = 8
	SIGBUS  Signal = 7
	SIGSEGV Signal = 11
)

func (s Signal) String() string {
	switch s {
	case SIGILL:
		return "SIGILL"
	case SIGABRT:
		return "SIGABRT"
	case SIGFPE:
		return "SIGFPE"
	case SIGBUS:
		return "SIGBUS"
	case SIGSEGV:
		return "SIGSEGV"
	default:
		return "SIG?"
	}
}

// Interesting reports whether s is one of the five signals the
// classifier treats as a crash.
func (s Signal) Interesting() bool {
	switch s {
	case SIGILL, SIGABRT, SIGFPE, SIGBUS, SIGSEGV:
		return true
	default:
		return false
	}
}

// Fingerprint is the crash uniqueness triple: signal, crash PC, and a
// hash of the backtrace.
type Fingerprint struct {
	Signal        Signal
	PC            uint64
	BacktraceHash uint64
}

// RunCounters are the run-level atomic counters (mutationsCnt,
// crashesCnt, uniqueCrashesCnt, ...).
type RunCounters struct {
	MutationsCnt       int64
	CrashesCnt         int64
	UniqueCrashesCnt   int64
	VerifiedCrashesCnt int64
	BlCrashesCnt       int64
	TimeoutedCnt       int64
}

// RunCountersSnapshot is a stable point-in-time copy, used by report/ui code
// that must not race the atomics backing the live counters.
type RunCountersSnapshot struct {
	RunCounters
	State      FuzzState
	CorpusSize int
	QueueSize  int
	Timestamp  time.Time
}

// Package backend implements the FeedbackBackend sum type: four
// interchangeable coverage-observation strategies sharing a
// five-operation lifecycle (prepare_child, attach, poll, detach,
// merge) and a six-state per-iteration machine (unattached → prepared
// → attached → observing → detached → merged). An Executor/
// ExecutionResult-shaped interface generalized from "one in-process
// coverage map" to "four pluggable out-of-process backend variants",
// since the fuzzed targets here are separate subprocesses rather than
// in-process callables.
package backend

import (
	"fmt"

	"github.com/fluxfuzzer/hfgo/internal/feedback"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// State is the per-iteration backend lifecycle state.
type State int

const (
	StateUnattached State = iota
	StatePrepared
	StateAttached
	StateObserving
	StateDetached
	StateMerged
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StatePrepared:
		return "prepared"
	case StateAttached:
		return "attached"
	case StateObserving:
		return "observing"
	case StateDetached:
		return "detached"
	case StateMerged:
		return "merged"
	default:
		return "unknown"
	}
}

// ChildFDs carries the file descriptors a backend may need bound into
// the about-to-exec child, e.g. the shared-bitmap fd (1022) for the
// software-bitmap variant.
type ChildFDs struct {
	BitmapFD int
	SocketFD int
}

// PollResult is what a backend's poll() observed this iteration.
type PollResult struct {
	HW     types.HWCounts
	Sancov types.SancovCounts
	// NewCoverage reports whether this iteration's observation produced
	// at least one newly-set bit in the shared FeedbackStore.
	NewCoverage bool
}

// Backend is the shared five-operation interface every variant
// implements.
type Backend interface {
	Name() string
	PrepareChild(fds ChildFDs, env []string) error
	Attach(pid int) error
	Poll() (PollResult, error)
	Detach(pid int) error
	Merge(hwcnt types.HWCounts) types.DynFileMethod
	State() State
}

// degrade returns an error tagged for the caller to fall back to
// POSIX-only classification; the backend's state is left as it was: a
// failure in prepare or attach degrades the iteration to POSIX-only
// rather than aborting it.
func degrade(name string, cause error) error {
	return fmt.Errorf("backend %s: degraded to POSIX-only: %w", name, cause)
}

// New constructs the requested backend variant, wired to store for
// crediting any observed coverage.
func New(kind string, store *feedback.Store) (Backend, error) {
	switch kind {
	case "hwcounter":
		return newHWCounterBackend(store), nil
	case "softbitmap":
		return newSoftBitmapBackend(store), nil
	case "sancov":
		return newSancovBackend(store), nil
	case "posix":
		return newPosixBackend(), nil
	default:
		return nil, fmt.Errorf("backend: unknown variant %q", kind)
	}
}

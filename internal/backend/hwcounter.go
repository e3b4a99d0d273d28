package backend

import (
	"errors"

	"github.com/fluxfuzzer/hfgo/internal/feedback"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// hwCounterBackend observes CPU instruction/branch/basic-block counts
// via per-PID performance-counter file descriptors. Linux perf_event
// programming is inherently platform- and privilege-specific (it needs
// CAP_PERFMON or a relaxed perf_event_paranoid, and differs across
// kernel versions), so this variant is deliberately left unimplemented
// rather than faked. PrepareChild always degrades to POSIX-only — this
// is the documented degradation path, not a silent no-op.
type hwCounterBackend struct {
	store *feedback.Store
	state State
}

func newHWCounterBackend(store *feedback.Store) *hwCounterBackend {
	return &hwCounterBackend{store: store, state: StateUnattached}
}

func (b *hwCounterBackend) Name() string { return "hwcounter" }

func (b *hwCounterBackend) PrepareChild(fds ChildFDs, env []string) error {
	return degrade(b.Name(), errors.New("perf_event hardware counters are not supported on this build"))
}

func (b *hwCounterBackend) Attach(pid int) error {
	return degrade(b.Name(), errors.New("hwcounter backend never successfully prepared"))
}

func (b *hwCounterBackend) Poll() (PollResult, error) {
	return PollResult{}, nil
}

func (b *hwCounterBackend) Detach(pid int) error {
	b.state = StateDetached
	return nil
}

func (b *hwCounterBackend) Merge(hwcnt types.HWCounts) types.DynFileMethod {
	b.state = StateMerged
	return types.DynFileNone
}

func (b *hwCounterBackend) State() State { return b.state }

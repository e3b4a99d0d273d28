package backend

import "github.com/fluxfuzzer/hfgo/pkg/types"

// posixBackend observes only the child's termination signal: no extra
// FDs and no coverage credit. It does not mark each interesting signal
// unique: its crashes go through the engine's fingerprint tracker like
// those of every other variant. It is the fallback every other variant
// degrades to on prepare/attach failure.
type posixBackend struct {
	state State
}

func newPosixBackend() *posixBackend {
	return &posixBackend{state: StateUnattached}
}

func (b *posixBackend) Name() string { return "posix" }

func (b *posixBackend) PrepareChild(fds ChildFDs, env []string) error {
	b.state = StatePrepared
	return nil
}

func (b *posixBackend) Attach(pid int) error {
	b.state = StateAttached
	return nil
}

func (b *posixBackend) Poll() (PollResult, error) {
	b.state = StateObserving
	// POSIX observes nothing beyond the exit status, which the
	// classifier reads directly from wait4(); no coverage credit here.
	return PollResult{}, nil
}

func (b *posixBackend) Detach(pid int) error {
	b.state = StateDetached
	return nil
}

func (b *posixBackend) Merge(hwcnt types.HWCounts) types.DynFileMethod {
	b.state = StateMerged
	return types.DynFileNone
}

func (b *posixBackend) State() State { return b.state }

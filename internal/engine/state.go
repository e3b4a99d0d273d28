package engine

import (
	"sync/atomic"
	"time"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// runState holds the Engine's process-wide mutable state: the monotone
// FuzzState, the shutdown flag, the global iteration counter, and the
// run-level counters. All fields are accessed only through atomics so
// workers never take a lock to read or update them; counter updates
// use atomic post-increment and are eventually consistent.
type runState struct {
	state    atomic.Int32
	shutdown atomic.Bool
	iter     atomic.Int64

	mutationsCnt       atomic.Int64
	crashesCnt         atomic.Int64
	uniqueCrashesCnt   atomic.Int64
	verifiedCrashesCnt atomic.Int64
	blCrashesCnt       atomic.Int64
	timeoutedCnt       atomic.Int64
}

func newRunState(initial types.FuzzState) *runState {
	rs := &runState{}
	rs.state.Store(int32(initial))
	return rs
}

// seedFrom primes the run-level counters from a prior run's summary,
// implementing output.resume_from (--resume-from): called once at startup, before any worker
// has incremented a counter, so a plain Store (not Add) is correct.
func (r *runState) seedFrom(rc types.RunCounters) {
	r.mutationsCnt.Store(rc.MutationsCnt)
	r.crashesCnt.Store(rc.CrashesCnt)
	r.uniqueCrashesCnt.Store(rc.UniqueCrashesCnt)
	r.verifiedCrashesCnt.Store(rc.VerifiedCrashesCnt)
	r.blCrashesCnt.Store(rc.BlCrashesCnt)
	r.timeoutedCnt.Store(rc.TimeoutedCnt)
}

func (r *runState) State() types.FuzzState {
	return types.FuzzState(r.state.Load())
}

// advanceToDynamicMain implements the atomic dynamic-pre → dynamic-main
// transition. It is a no-op if the state has already moved past
// dynamic-pre (including a concurrent winner of this same race), so
// callers may call it unconditionally once they believe the seed set
// is exhausted.
func (r *runState) advanceToDynamicMain() {
	r.state.CompareAndSwap(int32(types.StateDynamicPre), int32(types.StateDynamicMain))
}

func (r *runState) requestShutdown() { r.shutdown.Store(true) }
func (r *runState) shuttingDown() bool { return r.shutdown.Load() }

// nextIteration returns the post-increment global iteration count and
// reports whether mutationsMax has already been reached. Workers may
// overshoot by at most one in-flight iteration each, keeping
// mutationsCnt <= mutationsMax + threadsMax.
func (r *runState) nextIteration(mutationsMax int64) (int64, bool) {
	n := r.iter.Add(1)
	if mutationsMax > 0 && n > mutationsMax {
		return n, true
	}
	return n, false
}

func (r *runState) snapshot(corpusSize, queueSize int) types.RunCountersSnapshot {
	return types.RunCountersSnapshot{
		RunCounters: types.RunCounters{
			MutationsCnt:       r.mutationsCnt.Load(),
			CrashesCnt:         r.crashesCnt.Load(),
			UniqueCrashesCnt:   r.uniqueCrashesCnt.Load(),
			VerifiedCrashesCnt: r.verifiedCrashesCnt.Load(),
			BlCrashesCnt:       r.blCrashesCnt.Load(),
			TimeoutedCnt:       r.timeoutedCnt.Load(),
		},
		State:      r.State(),
		CorpusSize: corpusSize,
		QueueSize:  queueSize,
		Timestamp:  time.Now(),
	}
}

package feedback

import "sync/atomic"

// MaxWorkers mirrors honggfuzz's _HF_THREAD_MAX.
const MaxWorkers = 1024

// Store is the FeedbackStore: two shared bitmaps plus per-worker hit
// counters (PerWorkerCounters). Written only by the owning worker for
// its own counters; the bitmaps are shared and lock-free.
type Store struct {
	pc  *Bitmap
	cmp *Bitmap

	pcCounters  [MaxWorkers]int64
	cmpCounters [MaxWorkers]int64
}

// NewStore allocates a fresh FeedbackStore for one run.
func NewStore() *Store {
	return &Store{pc: newBitmap(), cmp: newBitmap()}
}

// RecordBitmap implements record_bitmap(worker, kind, key): set the bit
// at key&mask in the requested bitmap. If it was previously clear,
// increments the worker's local counter and returns true ("new").
func (s *Store) RecordBitmap(worker int, kind Kind, key uint32) bool {
	var bm *Bitmap
	var counters *[MaxWorkers]int64
	switch kind {
	case KindPC:
		bm = s.pc
		counters = &s.pcCounters
	case KindCMP:
		bm = s.cmp
		counters = &s.cmpCounters
	default:
		return false
	}

	isNew := bm.testAndSet(key)
	if isNew && worker >= 0 && worker < MaxWorkers {
		atomic.AddInt64(&counters[worker], 1)
	}
	return isNew
}

// Totals is the result of snapshot_totals(): the sum of per-worker
// counters, used by the Engine between iterations for progress metrics.
type Totals struct {
	PC  uint64
	CMP uint64
}

// SnapshotTotals sums per-worker counters for PC and CMP.
func (s *Store) SnapshotTotals() Totals {
	var t Totals
	for i := 0; i < MaxWorkers; i++ {
		t.PC += uint64(atomic.LoadInt64(&s.pcCounters[i]))
		t.CMP += uint64(atomic.LoadInt64(&s.cmpCounters[i]))
	}
	return t
}

// BitmapPopcount reports the number of set bits in each bitmap, a
// coverage-percent metric useful for the status screen / dashboard:
// it is the fraction of the 16 MiB*8-bit address space that has ever
// been hit.
func (s *Store) BitmapPopcount() (pc, cmp uint64) {
	return s.pc.popcount(), s.cmp.popcount()
}

// HashPC folds a faulting/program-counter-shaped uint64 into the
// bitmap's 27-bit key space, the Go analog of honggfuzz's
// pointer-to-bitmap-index hash.
func HashPC(pc uint64) uint32 {
	h := pc ^ (pc >> 33)
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return uint32(h)
}

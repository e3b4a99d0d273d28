// Package corpus manages the fuzzing input set: the static seed files
// loaded at startup and the dynamic queue grown from inputs that
// produced new coverage. A mutex-protected slice plus hash index,
// generalized from an HTTP-payload corpus to an opaque-buffer one,
// with round-robin parent selection. On-disk persistence is delegated
// to internal/diskstore instead of hand-rolled JSON sidecar files.
package corpus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxfuzzer/hfgo/internal/diskstore"
	"github.com/fluxfuzzer/hfgo/internal/fuzzyhash"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// Input is a single fuzzing input: the byte buffer plus the bookkeeping
// the Engine and ReportSink need.
type Input struct {
	Data           []byte
	Hash           string
	IsSeed         bool
	DiscoveredAt   time.Time
	ExecutionCount int64
}

// Corpus holds the static seed set and the dynamic queue grown during
// dynamic-pre/dynamic-main.
type Corpus struct {
	store *diskstore.Store

	mu        sync.RWMutex
	seeds     []*Input
	dynamic   []*Input
	doneIdx   int // "done file index" cursor, advanced by mark_done
	roundRS   int // round-robin cursor over seeds
	roundRD   int // round-robin cursor over the dynamic queue
	maxFileSz int64
	nearDup   *fuzzyhash.TLSHFilter
}

// Config configures a Corpus.
type Config struct {
	Store     *diskstore.Store
	MaxFileSz int64
	// NearDupThreshold, when > 0, enables TLSH-based near-duplicate
	// filtering of dynamic-queue entries at that distance threshold
	// (lower means stricter). 0 disables the filter.
	NearDupThreshold int
}

// New creates an empty Corpus backed by store.
func New(cfg Config) *Corpus {
	maxSz := cfg.MaxFileSz
	if maxSz <= 0 {
		maxSz = 1 << 20 // honggfuzz's default maxFileSz (1 MiB)
	}
	c := &Corpus{store: cfg.Store, maxFileSz: maxSz}
	if cfg.NearDupThreshold > 0 {
		c.nearDup = fuzzyhash.NewTLSHFilter(cfg.NearDupThreshold)
	}
	return c
}

// LoadSeeds reads every blob under dir into the static seed set, used
// at startup to populate the corpus from target.input_dir.
func (c *Corpus) LoadSeeds(dir string) error {
	if err := c.store.LoadDir(dir); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.store.Keys() {
		data, ok := c.store.Get(key)
		if !ok {
			continue
		}
		c.seeds = append(c.seeds, &Input{
			Data:         data,
			Hash:         key,
			IsSeed:       true,
			DiscoveredAt: time.Now(),
		})
	}
	if len(c.seeds) == 0 {
		return fmt.Errorf("corpus: no seed files found in %s", dir)
	}
	return nil
}

// SelectParent implements select_parent(): round-robin over the
// original seed set during static and dynamic-pre; during
// dynamic-main, round-robin over the dynamic queue, falling back to
// the seed set if the queue is still empty.
func (c *Corpus) SelectParent(state types.FuzzState) *Input {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state == types.StateDynamicMain && len(c.dynamic) > 0 {
		idx := c.roundRD % len(c.dynamic)
		c.roundRD++
		return c.dynamic[idx]
	}

	if len(c.seeds) == 0 {
		return nil
	}
	idx := c.roundRS % len(c.seeds)
	c.roundRS++
	return c.seeds[idx]
}

// SelectSeedIndexed round-robins over the static seed set like
// SelectParent does for the static/dynamic-pre states, but also
// returns the seed's index so the caller can report it to MarkDone
// once dynamic-pre has finished warming that seed — used by the
// Engine to detect when every seed has been consumed and it is time
// to transition to dynamic-main.
func (c *Corpus) SelectSeedIndexed() (*Input, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.seeds) == 0 {
		return nil, -1
	}
	idx := c.roundRS % len(c.seeds)
	c.roundRS++
	return c.seeds[idx], idx
}

// Offer implements offer(input, had_new_coverage): inputs that
// produced new coverage are appended to the dynamic queue (subject to
// the maxFileSz cap); everything else is discarded. Concurrent callers
// racing to offer variants of the same newly-discovered bit are all
// accepted — the FeedbackStore already serialized "who saw it first"
// credit, so duplicate queue entries are harmless redundancy. When
// near-duplicate filtering is enabled, inputs within TLSH distance of
// a previously-queued entry are additionally dropped, since TLSH
// similarity is a cheap way to keep byte-for-byte-near variants from
// bloating the queue without affecting which bits get credited.
func (c *Corpus) Offer(data []byte, hadNewCoverage bool) bool {
	if !hadNewCoverage {
		return false
	}
	if int64(len(data)) > c.maxFileSz {
		return false
	}
	if c.nearDup != nil && c.nearDup.IsNearDuplicate(data) {
		return false
	}

	key, err := c.store.Put(data)
	if err != nil {
		return false
	}
	if c.nearDup != nil {
		_ = c.nearDup.Observe(data)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dynamic = append(c.dynamic, &Input{
		Data:         data,
		Hash:         key,
		DiscoveredAt: time.Now(),
	})
	return true
}

// MarkDone implements mark_done(index): advances the done-file-index
// cursor used by the Engine to detect when dynamic-pre has exhausted
// the seed set and should transition to dynamic-main.
func (c *Corpus) MarkDone(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index+1 > c.doneIdx {
		c.doneIdx = index + 1
	}
}

// DoneIndex returns the current done-file-index cursor.
func (c *Corpus) DoneIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doneIdx
}

// SeedCount returns the number of static seed files.
func (c *Corpus) SeedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seeds)
}

// DynamicSize returns the number of entries in the dynamic queue, read
// by the Engine and the status screen for progress metrics.
func (c *Corpus) DynamicSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dynamic)
}

// RecordExecution bumps an input's execution counter. Atomic because
// round-robin selection can hand the same *Input to more than one
// worker in flight at once.
func (i *Input) RecordExecution() {
	atomic.AddInt64(&i.ExecutionCount, 1)
}

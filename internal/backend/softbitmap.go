package backend

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/fluxfuzzer/hfgo/internal/feedback"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// softBitmapBackend observes PC and CMP hits via the shared-memory
// bitmap file descriptor (1022 in honggfuzz; the nearest numbering
// Go's os/exec ExtraFiles allows is 3+n, documented at the call site
// in internal/engine) the child inherits from the parent, honggfuzz's
// _HF_BITMAP_FD contract. Each observed word is OR'd bit-by-bit into
// the process-wide FeedbackStore via a compare-and-swap test-and-set,
// crediting whichever bits are newly seen.
type softBitmapBackend struct {
	store *feedback.Store
	state State
	// workerID identifies which FeedbackStore slot this backend's
	// worker owns for crediting new-coverage counters.
	workerID int
	// wordsSeen is the last snapshot read from the child's bitmap fd,
	// used to detect bits the child newly set this iteration.
	wordsSeen []uint32
	// pipeR is the parent's read end of the pipe whose write end was
	// handed to the about-to-exec child as an ExtraFiles entry.
	pipeR *os.File
}

func newSoftBitmapBackend(store *feedback.Store) *softBitmapBackend {
	return &softBitmapBackend{store: store, state: StateUnattached}
}

func (b *softBitmapBackend) Name() string { return "softbitmap" }

func (b *softBitmapBackend) PrepareChild(fds ChildFDs, env []string) error {
	if fds.BitmapFD <= 0 {
		return degrade(b.Name(), fmt.Errorf("softbitmap: no bitmap fd provided"))
	}
	b.state = StatePrepared
	return nil
}

// OpenChildPipe creates the pipe backing the child's bitmap fd: the
// write end is returned for the Subprocess layer to append to
// cmd.ExtraFiles, while the read end is kept here for ReadChildPipe to
// drain once the child has exited.
func (b *softBitmapBackend) OpenChildPipe() (*os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("softbitmap: open child pipe: %w", err)
	}
	b.pipeR = r
	return w, nil
}

// ReadChildPipe drains whatever the child buffered into its bitmap fd
// (a stream of little-endian uint32 words, each one 32 packed bitmap
// bits rather than a single set-bit index) and hands the result to
// Ingest ahead of the next Poll call. Safe to call when no pipe was
// opened (e.g. PrepareChild degraded).
func (b *softBitmapBackend) ReadChildPipe() {
	if b.pipeR == nil {
		return
	}
	data, _ := io.ReadAll(b.pipeR)
	b.pipeR.Close()
	b.pipeR = nil

	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	b.Ingest(words)
}

func (b *softBitmapBackend) Attach(pid int) error {
	b.state = StateAttached
	return nil
}

// Poll folds the bitmap snapshot most recently handed to Ingest (by
// ReadChildPipe, after the child has exited) into the shared
// FeedbackStore, crediting workerID for whichever bits are new.
func (b *softBitmapBackend) Poll() (PollResult, error) {
	b.state = StateObserving
	var result PollResult
	for i, word := range b.wordsSeen {
		if word == 0 {
			continue
		}
		for bit := 0; bit < 32; bit++ {
			if word&(1<<uint(bit)) == 0 {
				continue
			}
			key := uint32(i*32 + bit)
			if b.store.RecordBitmap(b.workerID, feedback.KindPC, key) {
				result.NewCoverage = true
			}
		}
	}
	return result, nil
}

// Ingest feeds a raw bitmap snapshot, as drained from the child pipe by
// ReadChildPipe, into this backend ahead of the next Poll call.
func (b *softBitmapBackend) Ingest(words []uint32) {
	b.wordsSeen = words
}

// SetWorkerID assigns which FeedbackStore per-worker slot this
// backend credits.
func (b *softBitmapBackend) SetWorkerID(id int) {
	b.workerID = id
}

func (b *softBitmapBackend) Detach(pid int) error {
	b.state = StateDetached
	return nil
}

func (b *softBitmapBackend) Merge(hwcnt types.HWCounts) types.DynFileMethod {
	b.state = StateMerged
	return types.DynFileSoft
}

func (b *softBitmapBackend) State() State { return b.state }

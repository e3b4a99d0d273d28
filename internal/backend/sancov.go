package backend

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fluxfuzzer/hfgo/internal/feedback"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// sancovNode is a per-DSO bit vector entry in the sancov coverage
// table. A plain map keyed by DSO path gives the same lookup behavior
// a character-keyed trie would, without the bookkeeping.
type sancovNode struct {
	bits    []byte
	totalBB uint64
	hitBB   uint64
}

func newSancovNode(totalBB uint64) *sancovNode {
	return &sancovNode{bits: make([]byte, (totalBB+7)/8), totalBB: totalBB}
}

// MemMap describes one mapped region of the target: the module behind
// it plus its cumulative and total basic-block counts. Start/End/Base
// stay zero when the coverage files carry no address information.
type MemMap struct {
	Start   uint64
	End     uint64
	Base    uint64
	Module  string
	BBCnt   uint64
	BBTotal uint64
}

// SancovState is the per-run coverage state: one bit vector per
// instrumented DSO, scraped from sancov coverage files the child
// writes under the work directory.
type SancovState struct {
	mu   sync.Mutex
	trie map[string]*sancovNode
}

func newSancovState() *SancovState {
	return &SancovState{trie: make(map[string]*sancovNode)}
}

// foldHits marks the given bit-block indices as hit for a DSO,
// returning how many were newly set in this call.
func (s *SancovState) foldHits(dso string, totalBB uint64, hitIdx []uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.trie[dso]
	if !ok {
		node = newSancovNode(totalBB)
		s.trie[dso] = node
	}

	newCount := 0
	for _, idx := range hitIdx {
		byteIdx := idx / 8
		if byteIdx >= uint64(len(node.bits)) {
			continue
		}
		bit := byte(1) << (idx % 8)
		if node.bits[byteIdx]&bit == 0 {
			node.bits[byteIdx] |= bit
			newCount++
		}
	}
	node.hitBB += uint64(newCount)
	return newCount
}

// Mappings reports one MemMap per scraped DSO, sorted by module name.
func (s *SancovState) Mappings() []MemMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MemMap, 0, len(s.trie))
	for dso, node := range s.trie {
		out = append(out, MemMap{Module: dso, BBCnt: node.hitBB, BBTotal: node.totalBB})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// dsoCount reports how many distinct DSOs have been scraped so far.
func (s *SancovState) dsoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trie)
}

// sancovBackend parses sanitizer-coverage files the child writes under
// the work directory and folds per-DSO bit vectors into SancovState
// and the shared FeedbackStore, mirroring the poll/ingest shape used
// by softBitmapBackend.
type sancovBackend struct {
	store    *feedback.Store
	state    State
	sancov   *SancovState
	workerID int
	workDir  string

	pending []sancovHit
}

type sancovHit struct {
	dso     string
	totalBB uint64
	hitIdx  []uint64
}

func newSancovBackend(store *feedback.Store) *sancovBackend {
	return &sancovBackend{store: store, state: StateUnattached, sancov: newSancovState()}
}

func (b *sancovBackend) Name() string { return "sancov" }

func (b *sancovBackend) PrepareChild(fds ChildFDs, env []string) error {
	b.state = StatePrepared
	return nil
}

func (b *sancovBackend) Attach(pid int) error {
	b.state = StateAttached
	return nil
}

// SetWorkDir points ScrapeWorkDir at the directory the child writes
// its per-DSO coverage files into.
func (b *sancovBackend) SetWorkDir(dir string) { b.workDir = dir }

// sancovFileSuffix names the files ScrapeWorkDir looks for. The wire
// format is this repo's own (honggfuzz's real sancov format is
// unspecified by spec.md beyond "files in workDir named per DSO"): an
// 8-byte little-endian total-basic-block count followed by as many
// 8-byte little-endian hit indices as fit before EOF.
const sancovFileSuffix = ".sancov"

// ScrapeWorkDir reads every *.sancov file the child left in workDir
// since the previous iteration, feeds each one to Ingest keyed by its
// DSO-derived file stem, and removes the file so the next iteration
// doesn't re-count it.
func (b *sancovBackend) ScrapeWorkDir() error {
	if b.workDir == "" {
		return nil
	}
	entries, err := os.ReadDir(b.workDir)
	if err != nil {
		return fmt.Errorf("sancov: scrape work dir: %w", err)
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), sancovFileSuffix) {
			continue
		}
		path := filepath.Join(b.workDir, ent.Name())
		dso := strings.TrimSuffix(ent.Name(), sancovFileSuffix)
		if err := b.scrapeOne(path, dso); err != nil {
			continue // malformed/partial file; drop this iteration's sample
		}
		_ = os.Remove(path)
	}
	return nil
}

func (b *sancovBackend) scrapeOne(path, dso string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var totalBB uint64
	if err := binary.Read(f, binary.LittleEndian, &totalBB); err != nil {
		return err
	}
	var hitIdx []uint64
	for {
		var idx uint64
		if err := binary.Read(f, binary.LittleEndian, &idx); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		hitIdx = append(hitIdx, idx)
	}
	b.Ingest(dso, totalBB, hitIdx)
	return nil
}

// Ingest records a parsed sancov coverage file, scraped from the work
// directory by ScrapeWorkDir after the child exits.
func (b *sancovBackend) Ingest(dso string, totalBB uint64, hitIdx []uint64) {
	b.pending = append(b.pending, sancovHit{dso: dso, totalBB: totalBB, hitIdx: hitIdx})
}

func (b *sancovBackend) Poll() (PollResult, error) {
	b.state = StateObserving
	var result PollResult
	var total types.SancovCounts
	for _, hit := range b.pending {
		newHits := b.sancov.foldHits(hit.dso, hit.totalBB, hit.hitIdx)
		total.HitBBCnt += uint64(len(hit.hitIdx))
		total.TotalBBCnt += hit.totalBB
		total.NewBBCnt += uint64(newHits)
		if newHits > 0 {
			for _, idx := range hit.hitIdx {
				if b.store.RecordBitmap(b.workerID, feedback.KindPC, uint32(idx)) {
					result.NewCoverage = true
				}
			}
		}
	}
	total.DSOCnt = uint64(b.sancov.dsoCount())
	result.Sancov = total
	b.pending = nil
	return result, nil
}

func (b *sancovBackend) SetWorkerID(id int) { b.workerID = id }

// Mappings reports the per-DSO region records accumulated so far.
func (b *sancovBackend) Mappings() []MemMap { return b.sancov.Mappings() }

func (b *sancovBackend) Detach(pid int) error {
	b.state = StateDetached
	return nil
}

func (b *sancovBackend) Merge(hwcnt types.HWCounts) types.DynFileMethod {
	b.state = StateMerged
	return types.DynFileBBBlock
}

func (b *sancovBackend) State() State { return b.state }

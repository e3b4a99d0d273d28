package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxfuzzer/hfgo/internal/diskstore"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

func newTestCorpus(t *testing.T) (*Corpus, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := diskstore.New(diskstore.DefaultConfig(filepath.Join(dir, "store")))
	if err != nil {
		t.Fatalf("diskstore.New: %v", err)
	}
	return New(Config{Store: store, MaxFileSz: 1024}), dir
}

func writeSeed(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestSelectParentRoundRobinsSeedsInStaticState(t *testing.T) {
	c, dir := newTestCorpus(t)
	writeSeed(t, dir, "a", []byte("AAAA"))
	writeSeed(t, dir, "b", []byte("BBBB"))
	if err := c.LoadSeeds(dir); err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		in := c.SelectParent(types.StateStatic)
		if in == nil {
			t.Fatal("expected a parent, got nil")
		}
		seen[in.Hash]++
	}
	if len(seen) != 2 {
		t.Fatalf("expected round-robin to visit both seeds, saw %d distinct", len(seen))
	}
}

func TestSelectParentFallsBackToSeedsWhenDynamicQueueEmpty(t *testing.T) {
	c, dir := newTestCorpus(t)
	writeSeed(t, dir, "a", []byte("AAAA"))
	if err := c.LoadSeeds(dir); err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}

	in := c.SelectParent(types.StateDynamicMain)
	if in == nil {
		t.Fatal("expected fallback to seed set, got nil")
	}
}

func TestSelectParentPrefersDynamicQueueInDynamicMain(t *testing.T) {
	c, dir := newTestCorpus(t)
	writeSeed(t, dir, "a", []byte("AAAA"))
	if err := c.LoadSeeds(dir); err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	if ok := c.Offer([]byte("new coverage input"), true); !ok {
		t.Fatal("expected Offer to accept input with new coverage")
	}

	in := c.SelectParent(types.StateDynamicMain)
	if in == nil || in.IsSeed {
		t.Fatal("expected a dynamic-queue entry, not a seed, once the queue is non-empty")
	}
}

func TestOfferDiscardsWithoutNewCoverage(t *testing.T) {
	c, _ := newTestCorpus(t)
	if ok := c.Offer([]byte("no new coverage"), false); ok {
		t.Fatal("expected Offer to discard input without new coverage")
	}
	if c.DynamicSize() != 0 {
		t.Fatalf("expected empty dynamic queue, got size %d", c.DynamicSize())
	}
}

func TestOfferRejectsOversizeInput(t *testing.T) {
	c, _ := newTestCorpus(t) // MaxFileSz = 1024
	big := make([]byte, 2048)
	if ok := c.Offer(big, true); ok {
		t.Fatal("expected Offer to reject input larger than maxFileSz")
	}
}

func TestOfferRejectsNearDuplicateWhenFilterEnabled(t *testing.T) {
	dir := t.TempDir()
	store, err := diskstore.New(diskstore.DefaultConfig(filepath.Join(dir, "store")))
	if err != nil {
		t.Fatalf("diskstore.New: %v", err)
	}
	c := New(Config{Store: store, MaxFileSz: 4096, NearDupThreshold: 100})

	base := []byte("AAAABBBBCCCCDDDDAAAABBBBCCCCDDDDAAAABBBBCCCCDDDDAAAABBBBCCCCDDDD")
	if ok := c.Offer(base, true); !ok {
		t.Fatal("expected the first entry to be accepted")
	}

	nearDup := append([]byte(nil), base...)
	nearDup[0] = 'X'
	if ok := c.Offer(nearDup, true); ok {
		t.Fatal("expected a near-duplicate entry to be rejected")
	}
	if c.DynamicSize() != 1 {
		t.Fatalf("expected dynamic queue size 1, got %d", c.DynamicSize())
	}
}

func TestMarkDoneAdvancesMonotonically(t *testing.T) {
	c, _ := newTestCorpus(t)
	c.MarkDone(3)
	if c.DoneIndex() != 4 {
		t.Fatalf("expected done index 4 after MarkDone(3), got %d", c.DoneIndex())
	}
	c.MarkDone(1) // stale, out-of-order call must not move the cursor backward
	if c.DoneIndex() != 4 {
		t.Fatalf("expected done index to stay monotonic at 4, got %d", c.DoneIndex())
	}
}

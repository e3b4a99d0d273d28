package backend

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxfuzzer/hfgo/internal/feedback"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

func TestNewConstructsAllVariants(t *testing.T) {
	store := feedback.NewStore()
	for _, kind := range []string{"hwcounter", "softbitmap", "sancov", "posix"} {
		b, err := New(kind, store)
		if err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
		if b.Name() != kind {
			t.Fatalf("expected Name() %q, got %q", kind, b.Name())
		}
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	store := feedback.NewStore()
	if _, err := New("quantum", store); err == nil {
		t.Fatal("expected an error for an unknown backend variant")
	}
}

func TestPosixBackendLifecycleStates(t *testing.T) {
	store := feedback.NewStore()
	b, err := New("posix", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.State() != StateUnattached {
		t.Fatalf("expected initial state unattached, got %v", b.State())
	}
	if err := b.PrepareChild(ChildFDs{}, nil); err != nil {
		t.Fatalf("PrepareChild: %v", err)
	}
	if b.State() != StatePrepared {
		t.Fatalf("expected prepared, got %v", b.State())
	}
	if err := b.Attach(123); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := b.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := b.Detach(123); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if m := b.Merge(types.HWCounts{}); m != types.DynFileNone {
		t.Fatalf("expected DynFileNone from posix Merge, got %v", m)
	}
	if b.State() != StateMerged {
		t.Fatalf("expected merged at end of lifecycle, got %v", b.State())
	}
}

func TestHWCounterBackendDegradesOnPrepare(t *testing.T) {
	store := feedback.NewStore()
	b, err := New("hwcounter", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.PrepareChild(ChildFDs{}, nil); err == nil {
		t.Fatal("expected hwcounter PrepareChild to degrade with an error")
	}
}

func TestSoftBitmapBackendFoldsIngestedWordsIntoStore(t *testing.T) {
	store := feedback.NewStore()
	b, err := New("softbitmap", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sb := b.(*softBitmapBackend)
	sb.SetWorkerID(0)
	sb.Ingest([]uint32{0b1010}) // bits 1 and 3 set

	result, err := b.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !result.NewCoverage {
		t.Fatal("expected Poll to report new coverage for previously-unset bits")
	}

	totals := store.SnapshotTotals()
	if totals.PC != 2 {
		t.Fatalf("expected 2 new PC bits credited, got %d", totals.PC)
	}

	// Re-ingesting the same word must not double-credit.
	sb.Ingest([]uint32{0b1010})
	result2, err := b.Poll()
	if err != nil {
		t.Fatalf("Poll #2: %v", err)
	}
	if result2.NewCoverage {
		t.Fatal("expected no new coverage on re-observing the same bits")
	}
}

func TestSoftBitmapBackendOpenAndReadChildPipe(t *testing.T) {
	store := feedback.NewStore()
	b, err := New("softbitmap", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sb := b.(*softBitmapBackend)
	sb.SetWorkerID(0)

	wfile, err := sb.OpenChildPipe()
	if err != nil {
		t.Fatalf("OpenChildPipe: %v", err)
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], 0b101)
	if _, err := wfile.Write(word[:]); err != nil {
		t.Fatalf("write to child pipe: %v", err)
	}
	wfile.Close()

	sb.ReadChildPipe()
	result, err := b.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !result.NewCoverage {
		t.Fatal("expected new coverage after draining the child pipe")
	}
	totals := store.SnapshotTotals()
	if totals.PC != 2 {
		t.Fatalf("expected 2 new PC bits credited, got %d", totals.PC)
	}

	// A second drain with nothing written must be a harmless no-op.
	sb.ReadChildPipe()
}

func TestSancovBackendScrapeWorkDirParsesAndRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	store := feedback.NewStore()
	b, err := New("sancov", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sb := b.(*sancovBackend)
	sb.SetWorkerID(0)
	sb.SetWorkDir(dir)

	path := filepath.Join(dir, "libtarget.so.sancov")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create sancov file: %v", err)
	}
	for _, v := range []uint64{100, 1, 2, 3} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			t.Fatalf("write sancov file: %v", err)
		}
	}
	f.Close()

	if err := sb.ScrapeWorkDir(); err != nil {
		t.Fatalf("ScrapeWorkDir: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected ScrapeWorkDir to remove the consumed sancov file")
	}

	result, err := b.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !result.NewCoverage {
		t.Fatal("expected new coverage from the scraped hits")
	}
	if result.Sancov.DSOCnt != 1 || result.Sancov.NewBBCnt != 3 {
		t.Fatalf("expected 1 DSO / 3 new blocks, got %+v", result.Sancov)
	}
}

func TestSancovBackendScrapeWorkDirEmptyDirIsNoop(t *testing.T) {
	dir := t.TempDir()
	store := feedback.NewStore()
	b, err := New("sancov", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sb := b.(*sancovBackend)
	sb.SetWorkDir(dir)

	if err := sb.ScrapeWorkDir(); err != nil {
		t.Fatalf("ScrapeWorkDir on empty dir: %v", err)
	}
}

func TestSancovBackendFoldsHitsAndTracksDSOCount(t *testing.T) {
	store := feedback.NewStore()
	b, err := New("sancov", store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sb := b.(*sancovBackend)
	sb.SetWorkerID(0)
	sb.Ingest("libtarget.so", 100, []uint64{1, 2, 3})

	result, err := b.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !result.NewCoverage {
		t.Fatal("expected new coverage from first-time hits")
	}
	if result.Sancov.DSOCnt != 1 {
		t.Fatalf("expected 1 DSO tracked, got %d", result.Sancov.DSOCnt)
	}
	if result.Sancov.NewBBCnt != 3 {
		t.Fatalf("expected 3 new basic blocks, got %d", result.Sancov.NewBBCnt)
	}

	maps := sb.Mappings()
	if len(maps) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(maps))
	}
	if maps[0].Module != "libtarget.so" || maps[0].BBCnt != 3 || maps[0].BBTotal != 100 {
		t.Fatalf("unexpected mapping record: %+v", maps[0])
	}
}

package poolutil

import (
	"sync"
	"testing"
)

func TestPoolSubmitRunsTask(t *testing.T) {
	p, err := New(&Options{Size: 4, PreAlloc: true, MaxBlocking: 16})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	var ran bool
	var mu sync.Mutex
	if err := p.Submit(func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatal("expected submitted task to run")
	}
	if p.Stats().Completed != 1 {
		t.Fatalf("expected Completed=1, got %d", p.Stats().Completed)
	}
}

func TestPoolSubmitWithErrorCountsErrors(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	if err := p.SubmitWithError(func() error { return errTest }); err != nil {
		t.Fatalf("SubmitWithError: %v", err)
	}
	p.Wait()

	if p.Stats().Errors != 1 {
		t.Fatalf("expected Errors=1, got %d", p.Stats().Errors)
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "test error" }

func TestPoolRejectsSubmitAfterShutdown(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Shutdown()

	if err := p.Submit(func() {}); err == nil {
		t.Fatal("expected Submit after Shutdown to return an error")
	}
}

func TestBufferPoolGetReturnsExactLength(t *testing.T) {
	bp := NewBufferPool()
	buf := bp.Get(100)
	if len(buf) != 100 {
		t.Fatalf("expected length 100, got %d", len(buf))
	}
	bp.Put(buf)
}

func TestBufferPoolReusesCapacity(t *testing.T) {
	bp := NewBufferPool()
	buf := bp.Get(50) // rounds up to the 64-byte bucket
	bp.Put(buf)

	buf2 := bp.Get(60)
	if cap(buf2) < 60 {
		t.Fatalf("expected reused buffer with sufficient capacity, got cap=%d", cap(buf2))
	}
}

func TestBufferPoolMissOnOversizeRequest(t *testing.T) {
	bp := NewBufferPool()
	huge := bp.Get(10 << 20) // larger than every bucket
	if len(huge) != 10<<20 {
		t.Fatalf("expected exact oversize length, got %d", len(huge))
	}
	if bp.Stats().Misses != 1 {
		t.Fatalf("expected 1 recorded miss, got %d", bp.Stats().Misses)
	}
}

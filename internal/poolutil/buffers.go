package poolutil

import "sync"

// BufferPool hands out scratch byte slices for mutation output,
// bucketed by size to avoid a fresh allocation per iteration.
// Generalized from pooling HTTP response bodies to pooling
// mutated-input scratch buffers (file sizes instead of response
// sizes, otherwise identical bucket/miss/discard bookkeeping).
type BufferPool struct {
	pools []*sync.Pool
	sizes []int

	mu       sync.Mutex
	gets     map[int]int64
	puts     map[int]int64
	misses   int64
	discards int64
}

var defaultSizes = []int{64, 256, 1024, 4096, 16384, 65536, 262144, 1 << 20}

// NewBufferPool creates a bucketed scratch-buffer pool.
func NewBufferPool() *BufferPool {
	bp := &BufferPool{
		sizes: defaultSizes,
		gets:  make(map[int]int64),
		puts:  make(map[int]int64),
	}
	bp.pools = make([]*sync.Pool, len(defaultSizes))
	for i, size := range defaultSizes {
		s := size
		bp.pools[i] = &sync.Pool{New: func() interface{} { return make([]byte, s) }}
	}
	return bp
}

// Get returns a slice of exactly size bytes, backed by a pooled
// allocation from the smallest bucket that fits.
func (bp *BufferPool) Get(size int) []byte {
	for i, bucket := range bp.sizes {
		if size <= bucket {
			bp.mu.Lock()
			bp.gets[bucket]++
			bp.mu.Unlock()
			slice := bp.pools[i].Get().([]byte)
			return slice[:size]
		}
	}
	bp.mu.Lock()
	bp.misses++
	bp.mu.Unlock()
	return make([]byte, size)
}

// Put returns a previously Get'd slice to its bucket.
func (bp *BufferPool) Put(slice []byte) {
	if slice == nil {
		return
	}
	c := cap(slice)
	for i, bucket := range bp.sizes {
		if c == bucket {
			bp.mu.Lock()
			bp.puts[bucket]++
			bp.mu.Unlock()
			bp.pools[i].Put(slice[:c])
			return
		}
	}
	bp.mu.Lock()
	bp.discards++
	bp.mu.Unlock()
}

// Stats is a point-in-time snapshot of buffer pool activity.
type BufferPoolStats struct {
	Misses   int64
	Discards int64
}

// Stats reports pool activity.
func (bp *BufferPool) Stats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return BufferPoolStats{Misses: bp.misses, Discards: bp.discards}
}

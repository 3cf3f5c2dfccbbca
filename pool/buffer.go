package pool

import (
	"sort"
	"sync"
)

var defaultBufferBuckets = []int{
	1 << 4,
	1 << 8,
	1 << 12,
	1 << 16,
}

// BufferPool hands out byte slices from power-of-two size buckets.
// Requests larger than the biggest bucket are plain allocations.
type BufferPool struct {
	sizes []int
	pools []*sync.Pool
}

func NewBufferPool(sizes ...int) *BufferPool {
	if len(sizes) == 0 {
		sizes = defaultBufferBuckets
	}
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)

	pools := make([]*sync.Pool, len(sorted))
	for i, size := range sorted {
		bucketSize := size
		pools[i] = &sync.Pool{
			New: func() any {
				return make([]byte, bucketSize)
			},
		}
	}
	return &BufferPool{sizes: sorted, pools: pools}
}

func (p *BufferPool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	idx := sort.SearchInts(p.sizes, size)
	if idx >= len(p.sizes) {
		return make([]byte, size)
	}
	buf := p.pools[idx].Get().([]byte)
	return buf[:size]
}

func (p *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	size := cap(buf)
	idx := sort.SearchInts(p.sizes, size)
	if idx >= len(p.sizes) || p.sizes[idx] != size {
		// not one of ours, let the GC take it
		return
	}
	p.pools[idx].Put(buf[:size])
}

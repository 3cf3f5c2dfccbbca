package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scratch struct {
	data []int
}

func TestPool_GetPut(t *testing.T) {
	p := New(
		func() *scratch { return &scratch{} },
		func(s *scratch) { s.data = s.data[:0] },
	)

	first := p.Get()
	require.NotNil(t, first)
	first.data = append(first.data, 1, 2, 3)

	_, misses := p.Stats()
	assert.Equal(t, int64(1), misses, "first checkout allocates")

	p.Put(first)

	second := p.Get()
	require.NotNil(t, second)
	assert.Empty(t, second.data, "reset must run on return")

	hits, misses := p.Stats()
	assert.Equal(t, int64(2), hits+misses)
}

func TestPool_NilReset(t *testing.T) {
	p := New(func() *scratch { return &scratch{} }, nil)

	s := p.Get()
	s.data = append(s.data, 7)
	p.Put(s)

	// no reset configured, the object comes back as returned
	again := p.Get()
	require.NotNil(t, again)
}

func TestBufferPool_BucketSizes(t *testing.T) {
	p := NewBufferPool()

	small := p.Get(10)
	assert.Len(t, small, 10)
	assert.Equal(t, 16, cap(small))

	medium := p.Get(300)
	assert.Len(t, medium, 300)
	assert.Equal(t, 4096, cap(medium))

	huge := p.Get(100000)
	assert.Len(t, huge, 100000, "oversized requests are plain allocations")
}

func TestBufferPool_PutRoundTrip(t *testing.T) {
	p := NewBufferPool()

	buf := p.Get(100)
	require.Equal(t, 256, cap(buf))
	p.Put(buf)

	again := p.Get(100)
	assert.Len(t, again, 100)
	assert.Equal(t, 256, cap(again))
}

func TestBufferPool_IgnoresForeignBuffers(t *testing.T) {
	p := NewBufferPool()

	// neither of these should panic or poison a bucket
	p.Put(nil)
	p.Put(make([]byte, 0, 100))

	buf := p.Get(100)
	assert.Equal(t, 256, cap(buf))
}

func TestBufferPool_ZeroSize(t *testing.T) {
	p := NewBufferPool()
	assert.Nil(t, p.Get(0))
	assert.Nil(t, p.Get(-1))
}

func TestBufferPool_CustomBuckets(t *testing.T) {
	p := NewBufferPool(64, 8)

	buf := p.Get(8)
	assert.Equal(t, 8, cap(buf))

	buf = p.Get(9)
	assert.Equal(t, 64, cap(buf))
}

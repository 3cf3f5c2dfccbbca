package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-marketfeed/domain"
)

func cachedMsg(streamID string) *domain.ParsedMessage {
	return &domain.ParsedMessage{
		StreamID: streamID,
		Channel:  domain.Channel_OrderBook,
		Depth:    &domain.DepthDelta{SequenceStart: 1, SequenceEnd: 2},
	}
}

func TestResultCache_PutGet(t *testing.T) {
	c := newResultCache(4, 64)

	c.put(1, cachedMsg("a"))
	assert.Equal(t, 1, c.len())

	msg, ok := c.get(1)
	require.True(t, ok)
	assert.Equal(t, "a", msg.StreamID)

	_, ok = c.get(99)
	assert.False(t, ok)
}

func TestResultCache_GetReturnsCopy(t *testing.T) {
	c := newResultCache(4, 64)
	c.put(1, cachedMsg("a"))

	msg, ok := c.get(1)
	require.True(t, ok)
	msg.StreamID = "mutated"

	again, ok := c.get(1)
	require.True(t, ok)
	assert.Equal(t, "a", again.StreamID, "mutating a lookup result must not touch the cached value")
}

func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newResultCache(2, 64)

	c.put(1, cachedMsg("a"))
	c.put(2, cachedMsg("b"))

	// touch key 1 so key 2 becomes the eviction candidate
	_, ok := c.get(1)
	require.True(t, ok)

	c.put(3, cachedMsg("c"))
	assert.Equal(t, 2, c.len())

	_, ok = c.get(2)
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = c.get(1)
	assert.True(t, ok)
	_, ok = c.get(3)
	assert.True(t, ok)
}

func TestResultCache_PutExistingKeyIsNoop(t *testing.T) {
	c := newResultCache(2, 64)

	c.put(1, cachedMsg("a"))
	c.put(1, cachedMsg("other"))

	msg, ok := c.get(1)
	require.True(t, ok)
	assert.Equal(t, "a", msg.StreamID)
	assert.Equal(t, 1, c.len())
}

func TestResultCache_Cacheable(t *testing.T) {
	c := newResultCache(4, 8)

	assert.True(t, c.cacheable(make([]byte, 8)))
	assert.False(t, c.cacheable(make([]byte, 9)), "oversized frames are not memoized")

	disabled := newResultCache(0, 8)
	assert.False(t, disabled.cacheable(make([]byte, 4)))
}

func TestResultCache_KeyIsContentHash(t *testing.T) {
	c := newResultCache(4, 64)

	a := []byte("same bytes")
	b := append([]byte(nil), a...)

	assert.Equal(t, c.key(a), c.key(b))
	assert.NotEqual(t, c.key(a), c.key([]byte("other bytes")))
}

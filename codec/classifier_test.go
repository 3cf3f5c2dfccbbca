package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spooky-finn/go-marketfeed/domain"
)

func TestClassifier_Classify(t *testing.T) {
	stats := &Stats{}
	c := NewClassifier(stats)

	depth := depthFrame("btcusdt@depth", sampleDelta())
	trades := MarshalEnvelope(domain.Channel_Trades, "btcusdt@trade", 1,
		MarshalTradeBatch(&domain.TradeBatch{Trades: []domain.Trade{{Price: 1, Amount: 1}}}))

	assert.Equal(t, domain.Channel_OrderBook, c.Classify(depth))
	assert.Equal(t, domain.Channel_Trades, c.Classify(trades))
	assert.Equal(t, int64(2), stats.ClassifierMisses.Load())

	// identical framing signature, served from the prefix cache
	assert.Equal(t, domain.Channel_OrderBook, c.Classify(depth))
	assert.Equal(t, int64(1), stats.ClassifierHits.Load())
}

func TestClassifier_GarbageFrame(t *testing.T) {
	stats := &Stats{}
	c := NewClassifier(stats)

	// wire type 2 with field number 0 is not a valid envelope start
	assert.Equal(t, domain.Channel_Unknown, c.Classify([]byte{0x02, 0xff}))
	assert.Equal(t, domain.Channel_Unknown, c.Classify(nil))

	// unknown results are never cached
	assert.Equal(t, domain.Channel_Unknown, c.Classify([]byte{0x02, 0xff}))
	assert.Equal(t, int64(0), stats.ClassifierHits.Load())
}

func TestClassifier_ChannelNotFirstField(t *testing.T) {
	stats := &Stats{}
	c := NewClassifier(stats)

	// stream id first: structurally valid but the peek gives up,
	// the full envelope walk still handles such frames
	frame := appendBytes(nil, fieldStreamID, []byte("btcusdt@depth"))
	assert.Equal(t, domain.Channel_Unknown, c.Classify(frame))
}

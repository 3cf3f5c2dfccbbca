package provider

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-marketfeed/codec"
	"github.com/spooky-finn/go-marketfeed/domain"
)

func newTestStreamAPI(t *testing.T) (*StreamAPI, *domain.SymbolRegistry) {
	t.Helper()
	registry := domain.NewSymbolRegistry()
	client := NewStreamClient(testOptions(), &fakeDialer{})
	api := NewStreamAPI("binance", client, nil, registry, &codec.Stats{}, nil)
	return api, registry
}

func btcSymbol(t *testing.T) *domain.MarketSymbol {
	t.Helper()
	s, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)
	return s
}

func TestStreamAPI_DepthDiffStreamRouting(t *testing.T) {
	api, _ := newTestStreamAPI(t)

	sub, err := api.DepthDiffStream(btcSymbol(t))
	require.NoError(t, err)
	assert.Equal(t, "btcusdt@depth", sub.Topic)

	delta := &domain.DepthDelta{
		SequenceStart: 100,
		SequenceEnd:   105,
		Bids:          []domain.PriceLevel{{Price: 100, Size: 1}},
	}
	frame := codec.MarshalEnvelope(domain.Channel_OrderBook, sub.Topic, 1700000000000, codec.MarshalDepthDelta(delta))
	api.handleFrame(frame)

	select {
	case got := <-sub.Stream:
		assert.Equal(t, delta, got)
	case <-time.After(time.Second):
		t.Fatal("depth delta was not routed to the subscription")
	}
}

func TestStreamAPI_TradeStreamRouting(t *testing.T) {
	api, _ := newTestStreamAPI(t)

	sub, err := api.TradeStream(btcSymbol(t))
	require.NoError(t, err)
	assert.Equal(t, "btcusdt@trade", sub.Topic)

	batch := &domain.TradeBatch{Trades: []domain.Trade{{Price: 100, Amount: 0.5, TradeID: 1}}}
	frame := codec.MarshalEnvelope(domain.Channel_Trades, sub.Topic, 1, codec.MarshalTradeBatch(batch))
	api.handleFrame(frame)

	select {
	case got := <-sub.Stream:
		assert.Equal(t, batch, got)
	case <-time.After(time.Second):
		t.Fatal("trade batch was not routed to the subscription")
	}
}

func TestStreamAPI_DuplicateSubscription(t *testing.T) {
	api, _ := newTestStreamAPI(t)

	_, err := api.DepthDiffStream(btcSymbol(t))
	require.NoError(t, err)

	_, err = api.DepthDiffStream(btcSymbol(t))
	assert.Error(t, err)
}

func TestStreamAPI_OnMessageCallback(t *testing.T) {
	api, _ := newTestStreamAPI(t)

	var mu sync.Mutex
	var seen []*domain.ParsedMessage
	api.OnMessage(func(msg *domain.ParsedMessage) {
		mu.Lock()
		seen = append(seen, msg)
		mu.Unlock()
	})

	frame := codec.MarshalEnvelope(domain.Channel_OrderBook, "btcusdt@depth", 1,
		codec.MarshalDepthDelta(&domain.DepthDelta{SequenceStart: 1, SequenceEnd: 2}))
	api.handleFrame(frame)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, domain.Channel_OrderBook, seen[0].Channel)
	assert.Equal(t, "btcusdt@depth", seen[0].StreamID)
}

func TestStreamAPI_UnknownFrameIsDropped(t *testing.T) {
	api, _ := newTestStreamAPI(t)

	called := false
	api.OnMessage(func(*domain.ParsedMessage) { called = true })

	api.handleFrame(codec.MarshalEnvelope(domain.Channel_Unknown, "btcusdt@depth", 1, nil))
	assert.False(t, called)
	assert.Equal(t, int64(1), api.DecoderStats().UnknownFrames)
}

func TestStreamAPI_UnsubscribeDuringDispatch(t *testing.T) {
	frame := codec.MarshalEnvelope(domain.Channel_OrderBook, "btcusdt@depth", 1,
		codec.MarshalDepthDelta(&domain.DepthDelta{SequenceStart: 1, SequenceEnd: 2}))

	// nobody drains the subscription, so every interleaving of an
	// in-flight dispatch with the close is exercised
	for i := 0; i < 200; i++ {
		api, _ := newTestStreamAPI(t)
		sub, err := api.DepthDiffStream(btcSymbol(t))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				api.handleFrame(frame)
			}
		}()

		sub.Unsubscribe()
		wg.Wait()
	}
}

func TestStreamAPI_UnsubscribeIsIdempotent(t *testing.T) {
	api, _ := newTestStreamAPI(t)

	sub, err := api.DepthDiffStream(btcSymbol(t))
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	// a stale handle must not close its successor's channel
	next, err := api.DepthDiffStream(btcSymbol(t))
	require.NoError(t, err)
	sub.Unsubscribe()

	frame := codec.MarshalEnvelope(domain.Channel_OrderBook, next.Topic, 1,
		codec.MarshalDepthDelta(&domain.DepthDelta{SequenceStart: 1, SequenceEnd: 2}))
	api.handleFrame(frame)

	select {
	case _, ok := <-next.Stream:
		assert.True(t, ok, "successor subscription must stay live")
	case <-time.After(time.Second):
		t.Fatal("successor subscription did not receive the update")
	}
}

func TestStreamAPI_SlowSubscriberDoesNotBlockDispatch(t *testing.T) {
	api, _ := newTestStreamAPI(t)

	sub, err := api.DepthDiffStream(btcSymbol(t))
	require.NoError(t, err)

	var delivered atomic.Int32
	api.OnMessage(func(*domain.ParsedMessage) { delivered.Add(1) })

	frame := codec.MarshalEnvelope(domain.Channel_OrderBook, sub.Topic, 1,
		codec.MarshalDepthDelta(&domain.DepthDelta{SequenceStart: 1, SequenceEnd: 2}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			api.handleFrame(frame)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on a full subscriber channel")
	}

	// the buffer fills, the overflow is dropped, the callback still saw all
	assert.Equal(t, streamBufferSize, len(sub.Stream))
	assert.Equal(t, int32(100), delivered.Load())
}

func TestStreamAPI_Unsubscribe(t *testing.T) {
	api, registry := newTestStreamAPI(t)

	sub, err := api.DepthDiffStream(btcSymbol(t))
	require.NoError(t, err)

	// resolve once so the registry has a cached mapping to evict
	_, err = registry.Resolve(sub.Topic)
	require.NoError(t, err)

	sub.Unsubscribe()

	assert.Equal(t, 0, registry.Len(), "unsubscribe must evict the cached symbol mapping")
	assert.Equal(t, 0, api.client.ActiveStreams())

	_, ok := <-sub.Stream
	assert.False(t, ok, "stream channel must be closed")

	// the topic can be subscribed again after an unsubscribe
	_, err = api.DepthDiffStream(btcSymbol(t))
	assert.NoError(t, err)
}

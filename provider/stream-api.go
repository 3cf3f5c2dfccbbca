package provider

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketfeed/codec"
	"github.com/spooky-finn/go-marketfeed/domain"
	"github.com/spooky-finn/go-marketfeed/logger"
)

const streamBufferSize = 64

// StreamAPI sits between the raw stream client and consumers: every frame
// is decoded once, then routed to the per-stream typed subscriptions and
// to the global message callback. Decode and routing happen synchronously
// on the dispatch loop, which preserves per-symbol wire order.
type StreamAPI struct {
	provider string
	client   *StreamClient
	syncAPI  domain.ProviderSyncAPI
	decoder  *codec.Decoder
	registry *domain.SymbolRegistry
	log      *logrus.Entry

	mu        sync.Mutex
	depthSubs map[string]chan *domain.DepthDelta
	tradeSubs map[string]chan *domain.TradeBatch
	onMessage func(*domain.ParsedMessage)
}

func NewStreamAPI(
	provider string,
	client *StreamClient,
	syncAPI domain.ProviderSyncAPI,
	registry *domain.SymbolRegistry,
	stats *codec.Stats,
	decOpts *codec.Options,
) *StreamAPI {
	api := &StreamAPI{
		provider:  provider,
		client:    client,
		syncAPI:   syncAPI,
		decoder:   codec.NewDecoder(registry, stats, decOpts),
		registry:  registry,
		log:       logger.WithComponent("stream-api"),
		depthSubs: make(map[string]chan *domain.DepthDelta),
		tradeSubs: make(map[string]chan *domain.TradeBatch),
	}
	client.SetHandler(api.handleFrame)
	return api
}

// OnMessage installs the consumer callback, invoked once per decoded
// message. The callback must not block for more than a few milliseconds or
// it stalls the read loop.
func (s *StreamAPI) OnMessage(cb func(*domain.ParsedMessage)) {
	s.mu.Lock()
	s.onMessage = cb
	s.mu.Unlock()
}

func (s *StreamAPI) handleFrame(frame []byte) {
	msg, err := s.decoder.Decode(frame)
	if err != nil {
		s.log.Warnf("dropped frame: %s", err)
		return
	}
	if msg == nil {
		return
	}

	// sends happen under the same lock Unsubscribe closes the channel
	// under, so a send on a closed channel is impossible. Sends never
	// block: a subscriber that stopped draining loses updates instead of
	// stalling the dispatch loop, and the book maintainer treats the
	// resulting sequence gap like any other gap.
	s.mu.Lock()
	switch msg.Channel {
	case domain.Channel_OrderBook:
		if ch, ok := s.depthSubs[msg.StreamID]; ok && msg.Depth != nil {
			select {
			case ch <- msg.Depth:
			default:
				s.log.Warnf("slow depth subscriber, dropping update: %s", msg.StreamID)
			}
		}
	case domain.Channel_Trades:
		if ch, ok := s.tradeSubs[msg.StreamID]; ok && msg.Trades != nil {
			select {
			case ch <- msg.Trades:
			default:
				s.log.Warnf("slow trade subscriber, dropping update: %s", msg.StreamID)
			}
		}
	}
	cb := s.onMessage
	s.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

// DepthDiffStream subscribes to the differential depth stream of a symbol.
func (s *StreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.DepthDelta], error) {
	topic := fmt.Sprintf("%s@depth", symbol.Join(""))

	ch := make(chan *domain.DepthDelta, streamBufferSize)
	s.mu.Lock()
	if _, exists := s.depthSubs[topic]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", topic)
	}
	s.depthSubs[topic] = ch
	s.mu.Unlock()

	err := s.client.Subscribe(&domain.StreamSubscription{
		StreamID: topic,
		Channel:  domain.Channel_OrderBook,
		Symbol:   symbol,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.depthSubs, topic)
		s.mu.Unlock()
		return nil, err
	}

	return &domain.Subscription[*domain.DepthDelta]{
		Stream: ch,
		Topic:  topic,
		Unsubscribe: func() {
			s.mu.Lock()
			if cur, live := s.depthSubs[topic]; live && cur == ch {
				delete(s.depthSubs, topic)
				close(ch)
			}
			s.mu.Unlock()
			_ = s.client.Unsubscribe(topic)
			s.registry.Evict(topic)
		},
	}, nil
}

// TradeStream subscribes to the trade print stream of a symbol.
func (s *StreamAPI) TradeStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.TradeBatch], error) {
	topic := fmt.Sprintf("%s@trade", symbol.Join(""))

	ch := make(chan *domain.TradeBatch, streamBufferSize)
	s.mu.Lock()
	if _, exists := s.tradeSubs[topic]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to %s", topic)
	}
	s.tradeSubs[topic] = ch
	s.mu.Unlock()

	err := s.client.Subscribe(&domain.StreamSubscription{
		StreamID: topic,
		Channel:  domain.Channel_Trades,
		Symbol:   symbol,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.tradeSubs, topic)
		s.mu.Unlock()
		return nil, err
	}

	return &domain.Subscription[*domain.TradeBatch]{
		Stream: ch,
		Topic:  topic,
		Unsubscribe: func() {
			s.mu.Lock()
			if cur, live := s.tradeSubs[topic]; live && cur == ch {
				delete(s.tradeSubs, topic)
				close(ch)
			}
			s.mu.Unlock()
			_ = s.client.Unsubscribe(topic)
			s.registry.Evict(topic)
		},
	}, nil
}

// GetOrderBook builds and maintains a local book for the symbol.
func (s *StreamAPI) GetOrderBook(symbol *domain.MarketSymbol, maxDepth int) *domain.CreateOrderBookResult {
	maintainer := domain.NewOrderBookMaintainer(s, s.syncAPI)
	return maintainer.CreateOrderBook(s.provider, symbol, maxDepth)
}

// Reconnects exposes connection-gap notifications; each caller gets its
// own channel.
func (s *StreamAPI) Reconnects() <-chan struct{} {
	return s.client.Reconnects()
}

// DecoderStats exposes the decode-path counters for the health surface.
func (s *StreamAPI) DecoderStats() codec.StatsSnapshot {
	return s.decoder.Stats()
}

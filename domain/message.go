package domain

// ChannelType discriminates the payload carried by a wire frame.
type ChannelType int

const (
	Channel_Unknown ChannelType = iota
	Channel_Trades
	Channel_OrderBook
	Channel_Ticker
	Channel_Kline
)

func (c ChannelType) String() string {
	switch c {
	case Channel_Trades:
		return "trades"
	case Channel_OrderBook:
		return "orderbook"
	case Channel_Ticker:
		return "ticker"
	case Channel_Kline:
		return "kline"
	}
	return "unknown"
}

type Side int

const (
	Side_Bid Side = iota
	Side_Ask
)

// PriceLevel is a single (price, aggregate size) pair. Levels are pooled
// by the order book engine and recycled when removed.
type PriceLevel struct {
	Price float64
	Size  float64
}

type Trade struct {
	Price     float64
	Amount    float64
	IsSell    bool
	IsMaker   bool
	TradeID   int64
	Timestamp int64
}

// TradeBatch is an ordered sequence of trade prints. Immutable once decoded.
type TradeBatch struct {
	Trades []Trade
}

// DepthDelta conveys differential price-level changes. The receiver must
// already hold correct prior state for the delta to be meaningful.
type DepthDelta struct {
	SequenceStart int64
	SequenceEnd   int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

type BookTicker struct {
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
}

type Kline struct {
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Interval string
	OpenTime int64
}

// ParsedMessage is the normalized result of decoding one wire frame.
// Exactly one payload field is set, matching Channel. Transient: handed to
// the consumer callback and never persisted.
type ParsedMessage struct {
	StreamID string
	Channel  ChannelType
	Symbol   *MarketSymbol

	Trades *TradeBatch
	Depth  *DepthDelta
	Ticker *BookTicker
	Kline  *Kline

	// Timestamp is the exchange event time in unix milliseconds.
	Timestamp int64
}

// Clone returns a shallow copy. Payloads are immutable once decoded, so
// sharing them between the copy and the original is safe.
func (m *ParsedMessage) Clone() *ParsedMessage {
	copied := *m
	return &copied
}

// StreamSubscription is one tracked wire-level subscription. The set of
// these, held by the stream client, is the source of truth for
// re-subscription after a reconnect.
type StreamSubscription struct {
	StreamID string
	Channel  ChannelType
	Symbol   *MarketSymbol
}

// Subscription is a live typed stream handed to a consumer.
type Subscription[T any] struct {
	Stream      chan T
	Unsubscribe func()
	Topic       string
}

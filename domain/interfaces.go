package domain

// ProviderSyncAPI is the REST bootstrap collaborator: full-depth snapshots
// fetched on initial symbol activation and after any detected gap. Must be
// idempotent and safe to call concurrently for different symbols.
type ProviderSyncAPI interface {
	OrderBookSnapshot(symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
}

type CreateOrderBookResult struct {
	OrderBook *OrderBook
	Snapshot  *OrderBookSnapshot
	Err       error
}

type ProviderStreamAPI interface {
	GetOrderBook(symbol *MarketSymbol, maxDepth int) *CreateOrderBookResult
	DepthDiffStream(symbol *MarketSymbol) (*Subscription[*DepthDelta], error)
	TradeStream(symbol *MarketSymbol) (*Subscription[*TradeBatch], error)
	// Reconnects exposes connection-gap notifications so book maintainers
	// can mark their state stale and resync.
	Reconnects() <-chan struct{}
}

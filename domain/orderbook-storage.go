package domain

import (
	"errors"
	"sync"

	"github.com/spooky-finn/go-marketfeed/logger"
)

var log = logger.WithComponent("domain")

var ErrOrderBookNotFound = errors.New("order book not found")

// OrderBookStorage holds the live books keyed by symbol. Books are created
// lazily on first subscription and removed on unsubscribe.
type OrderBookStorage struct {
	mu      sync.RWMutex
	storage map[string]*OrderBook
}

func NewOrderBookStorage() *OrderBookStorage {
	return &OrderBookStorage{
		storage: make(map[string]*OrderBook),
	}
}

func (o *OrderBookStorage) Add(symbol *MarketSymbol, orderBook *OrderBook) {
	o.mu.Lock()
	o.storage[symbol.String()] = orderBook
	o.mu.Unlock()
}

func (o *OrderBookStorage) Get(symbol *MarketSymbol) (*OrderBook, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ob, ok := o.storage[symbol.String()]
	if !ok {
		return nil, ErrOrderBookNotFound
	}
	return ob, nil
}

func (o *OrderBookStorage) Remove(symbol *MarketSymbol) {
	o.mu.Lock()
	delete(o.storage, symbol.String())
	o.mu.Unlock()
}

func (o *OrderBookStorage) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.storage)
}

// Sizes reports per-symbol level counts, used by the health surface.
func (o *OrderBookStorage) Sizes() map[string][2]int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	sizes := make(map[string][2]int, len(o.storage))
	for key, ob := range o.storage {
		sizes[key] = [2]int{ob.BidCount(), ob.AskCount()}
	}
	return sizes
}

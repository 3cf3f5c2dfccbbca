package usecase

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketfeed/domain"
	"github.com/spooky-finn/go-marketfeed/logger"
)

const starting = "starting"

// OrderBookSnapshotUseCase serves order book snapshots from the runtime
// storage, falling back to the provider REST API while a local book is
// still bootstrapping or is flagged stale.
type OrderBookSnapshotUseCase struct {
	streamAPI domain.ProviderStreamAPI
	syncAPI   domain.ProviderSyncAPI
	storage   *domain.OrderBookStorage
	maxDepth  int
	log       *logrus.Entry

	waitingRoom sync.Map
}

func NewOrderBookSnapshotUseCase(
	streamAPI domain.ProviderStreamAPI,
	syncAPI domain.ProviderSyncAPI,
	maxDepth int,
) *OrderBookSnapshotUseCase {
	return &OrderBookSnapshotUseCase{
		streamAPI: streamAPI,
		syncAPI:   syncAPI,
		storage:   domain.NewOrderBookStorage(),
		maxDepth:  maxDepth,
		log:       logger.WithComponent("ob-snapshot-usecase"),
	}
}

// GetOrderBookSnapshot returns the snapshot from the runtime storage or
// from the provider api while the local book is initializing.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	symbol *domain.MarketSymbol, limit int,
) (*domain.OrderBookSnapshot, error) {
	if _, ok := o.waitingRoom.Load(symbol.String()); ok {
		o.log.Debugf("orderbook is initing, serving provider snapshot: symbol=%s", symbol.String())
		return o.syncAPI.OrderBookSnapshot(symbol, limit)
	}

	orderbook, err := o.storage.Get(symbol)
	if err != nil {
		go o.createOrderBook(symbol)
		return o.syncAPI.OrderBookSnapshot(symbol, limit)
	}

	// a stale book must not be served as authoritative
	if orderbook.Status() != domain.OrderBookStatus_Ok {
		return o.syncAPI.OrderBookSnapshot(symbol, limit)
	}

	return orderbook.TakeSnapshot(limit), nil
}

// Release removes the local book of an unsubscribed symbol.
func (o *OrderBookSnapshotUseCase) Release(symbol *domain.MarketSymbol) {
	o.storage.Remove(symbol)
}

func (o *OrderBookSnapshotUseCase) BookSizes() map[string][2]int {
	return o.storage.Sizes()
}

func (o *OrderBookSnapshotUseCase) BookCount() int {
	return o.storage.Count()
}

func (o *OrderBookSnapshotUseCase) createOrderBook(symbol *domain.MarketSymbol) {
	key := symbol.String()
	if _, loaded := o.waitingRoom.LoadOrStore(key, starting); loaded {
		return
	}
	defer o.waitingRoom.Delete(key)

	result := o.streamAPI.GetOrderBook(symbol, o.maxDepth)
	if result.Err != nil {
		o.log.Errorf("failed to create orderbook for %s: %s", key, result.Err)
		return
	}

	o.storage.Add(symbol, result.OrderBook)
	o.log.Infof("orderbook added to the runtime storage: symbol=%s", key)
}

func (o *OrderBookSnapshotUseCase) String() string {
	return fmt.Sprintf("ob-snapshot-usecase(books=%d)", o.storage.Count())
}

package domain

import (
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/spooky-finn/go-marketfeed/pool"
)

type OrderBookSource string
type OrderBookStatus string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"

	OrderBookStatus_Ok OrderBookStatus = "Ok"
	// Stale books must not be served as authoritative until a fresh
	// snapshot bootstrap completes.
	OrderBookStatus_Stale OrderBookStatus = "Stale"

	DefaultDepthLimit = 100
)

type OrderBookSnapshot struct {
	Source       OrderBookSource `json:"source"`
	LastUpdateId int64           `json:"lastUpdateId"`
	Bids         [][]string      `json:"bids"`
	Asks         [][]string      `json:"asks"`
}

// OrderBook keeps per-symbol bid and ask price levels in ordered maps,
// bids read in descending and asks in ascending price order. All level
// mutation is O(log n). Each book carries its own mutex, so updates to
// different symbols never contend.
type OrderBook struct {
	Provider string
	Symbol   *MarketSymbol

	bids *btree.Map[float64, *PriceLevel]
	asks *btree.Map[float64, *PriceLevel]

	LastUpdateID   int64
	LastUpdateTime int64

	depthLimit int
	levelPool  *pool.Pool[*PriceLevel]
	status     OrderBookStatus
	mu         sync.Mutex
}

func NewOrderBook(provider string, symbol *MarketSymbol, snapshot *OrderBookSnapshot, depthLimit int) (*OrderBook, error) {
	if depthLimit <= 0 {
		depthLimit = DefaultDepthLimit
	}

	ob := &OrderBook{
		Provider:       provider,
		Symbol:         symbol,
		bids:           btree.NewMap[float64, *PriceLevel](32),
		asks:           btree.NewMap[float64, *PriceLevel](32),
		LastUpdateID:   snapshot.LastUpdateId,
		LastUpdateTime: time.Now().UnixMilli(),
		depthLimit:     depthLimit,
		levelPool: pool.New(
			func() *PriceLevel { return &PriceLevel{} },
			func(l *PriceLevel) { l.Price, l.Size = 0, 0 },
		),
		status: OrderBookStatus_Ok,
	}

	if err := ob.loadSide(Side_Bid, snapshot.Bids); err != nil {
		return nil, err
	}
	if err := ob.loadSide(Side_Ask, snapshot.Asks); err != nil {
		return nil, err
	}
	return ob, nil
}

// ApplyUpdate applies a single differential level change. A zero size
// removes the level; the removed object is recycled into the pool.
func (ob *OrderBook) ApplyUpdate(side Side, price, size float64) {
	ob.mu.Lock()
	ob.applyLevel(side, price, size)
	ob.mu.Unlock()
}

// ApplyDelta applies a batch of differential updates, then caps the depth
// and verifies the book is not crossed. Deltas at or behind the current
// sequence id are ignored.
func (ob *OrderBook) ApplyDelta(delta *DepthDelta) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if delta.SequenceEnd <= ob.LastUpdateID {
		return
	}

	ob.LastUpdateID = delta.SequenceEnd
	ob.LastUpdateTime = time.Now().UnixMilli()

	for i := range delta.Bids {
		ob.applyLevel(Side_Bid, delta.Bids[i].Price, delta.Bids[i].Size)
	}
	for i := range delta.Asks {
		ob.applyLevel(Side_Ask, delta.Asks[i].Price, delta.Asks[i].Size)
	}

	ob.capDepth()

	if ob.crossed() {
		log.Warnf("crossed book detected, marking stale: %s", ob.Symbol.String())
		ob.status = OrderBookStatus_Stale
	}
}

// TakeSnapshot materializes an immutable view of the top levels. The live
// maps stay the source of truth; the snapshot is a derived copy.
func (ob *OrderBook) TakeSnapshot(limit int) *OrderBookSnapshot {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if limit <= 0 || limit > ob.depthLimit {
		limit = ob.depthLimit
	}

	bids := make([][]string, 0, limit)
	ob.bids.Reverse(func(_ float64, level *PriceLevel) bool {
		bids = append(bids, serializeLevel(level))
		return len(bids) < limit
	})

	asks := make([][]string, 0, limit)
	ob.asks.Scan(func(_ float64, level *PriceLevel) bool {
		asks = append(asks, serializeLevel(level))
		return len(asks) < limit
	})

	return &OrderBookSnapshot{
		Source:       OrderBookSource_LocalOrderBook,
		LastUpdateId: ob.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}
}

// ResetFromSnapshot rebuilds the book from a fresh provider snapshot,
// clearing the stale flag. Used after a detected gap in the update stream.
func (ob *OrderBook) ResetFromSnapshot(snapshot *OrderBookSnapshot) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.recycleAll(ob.bids)
	ob.recycleAll(ob.asks)

	if err := ob.loadSide(Side_Bid, snapshot.Bids); err != nil {
		return err
	}
	if err := ob.loadSide(Side_Ask, snapshot.Asks); err != nil {
		return err
	}

	ob.LastUpdateID = snapshot.LastUpdateId
	ob.LastUpdateTime = time.Now().UnixMilli()
	ob.status = OrderBookStatus_Ok
	return nil
}

func (ob *OrderBook) MarkStale() {
	ob.mu.Lock()
	ob.status = OrderBookStatus_Stale
	ob.mu.Unlock()
}

func (ob *OrderBook) Status() OrderBookStatus {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.status
}

func (ob *OrderBook) BidCount() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.bids.Len()
}

func (ob *OrderBook) AskCount() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.asks.Len()
}

func (ob *OrderBook) BestBid() (PriceLevel, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if _, level, ok := ob.bids.Max(); ok {
		return *level, true
	}
	return PriceLevel{}, false
}

func (ob *OrderBook) BestAsk() (PriceLevel, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if _, level, ok := ob.asks.Min(); ok {
		return *level, true
	}
	return PriceLevel{}, false
}

func (ob *OrderBook) applyLevel(side Side, price, size float64) {
	m := ob.sideMap(side)

	if size == 0 {
		if level, ok := m.Delete(price); ok {
			ob.levelPool.Put(level)
		}
		return
	}

	if level, ok := m.Get(price); ok {
		level.Size = size
		return
	}

	level := ob.levelPool.Get()
	level.Price = price
	level.Size = size
	m.Set(price, level)
}

// capDepth trims the least-significant tail of each side: lowest-priced
// bids and highest-priced asks beyond the configured depth.
func (ob *OrderBook) capDepth() {
	for ob.bids.Len() > ob.depthLimit {
		if _, level, ok := ob.bids.PopMin(); ok {
			ob.levelPool.Put(level)
		}
	}
	for ob.asks.Len() > ob.depthLimit {
		if _, level, ok := ob.asks.PopMax(); ok {
			ob.levelPool.Put(level)
		}
	}
}

func (ob *OrderBook) crossed() bool {
	_, bestBid, okBid := ob.bids.Max()
	_, bestAsk, okAsk := ob.asks.Min()
	return okBid && okAsk && bestBid.Price >= bestAsk.Price
}

func (ob *OrderBook) sideMap(side Side) *btree.Map[float64, *PriceLevel] {
	if side == Side_Bid {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) loadSide(side Side, levels [][]string) error {
	for _, raw := range levels {
		price, err := strconv.ParseFloat(raw[0], 64)
		if err != nil {
			return err
		}
		size, err := strconv.ParseFloat(raw[1], 64)
		if err != nil {
			return err
		}
		ob.applyLevel(side, price, size)
	}
	return nil
}

func (ob *OrderBook) recycleAll(m *btree.Map[float64, *PriceLevel]) {
	m.Scan(func(_ float64, level *PriceLevel) bool {
		ob.levelPool.Put(level)
		return true
	})
	m.Clear()
}

func serializeLevel(level *PriceLevel) []string {
	return []string{
		strconv.FormatFloat(level.Price, 'f', -1, 64),
		strconv.FormatFloat(level.Size, 'f', -1, 64),
	}
}

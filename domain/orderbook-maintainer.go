package domain

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

const outOfSequenceThreshold = 5

// OrderbookMaintainer keeps one symbol's local book in sync with the
// differential update stream. Updates arriving while the snapshot bootstrap
// is in flight are buffered in a queue and drained once the book exists.
// A reconnect or a run of out-of-sequence updates marks the book stale and
// triggers a fresh bootstrap before differential updates resume.
type OrderbookMaintainer struct {
	orderBook *OrderBook
	syncAPI   ProviderSyncAPI
	streamAPI ProviderStreamAPI

	depthUpdateQueue deque.Deque[*DepthDelta]
	mu               sync.Mutex
	done             chan struct{}
	stopOnce         sync.Once

	validator           *DepthUpdateValidator
	outOfSequenceErrors int
	maxDepth            int
}

func NewOrderBookMaintainer(stream ProviderStreamAPI, syncAPI ProviderSyncAPI) *OrderbookMaintainer {
	return &OrderbookMaintainer{
		syncAPI:   syncAPI,
		streamAPI: stream,
		done:      make(chan struct{}),
		validator: &DepthUpdateValidator{},
	}
}

// CreateOrderBook subscribes to the depth stream, waits for the first
// buffered update, fetches the REST snapshot and starts draining the queue.
func (m *OrderbookMaintainer) CreateOrderBook(provider string, symbol *MarketSymbol, maxDepth int) *CreateOrderBookResult {
	m.maxDepth = maxDepth

	firstUpd, err := m.runStreamSubscriber(symbol)
	if err != nil {
		return &CreateOrderBookResult{Err: err}
	}
	<-firstUpd

	log.Debugf("subscribed to depth update stream: symbol=%s provider=%s", symbol.String(), provider)

	snapshot, err := m.syncAPI.OrderBookSnapshot(symbol, maxDepth)
	if err != nil {
		return &CreateOrderBookResult{Err: err}
	}

	orderbook, err := NewOrderBook(provider, symbol, snapshot, maxDepth)
	if err != nil {
		return &CreateOrderBookResult{Err: err}
	}

	m.orderBook = orderbook
	go m.queueReader()
	go m.reconnectListener()

	return &CreateOrderBookResult{
		OrderBook: orderbook,
		Snapshot:  snapshot,
		Err:       nil,
	}
}

func (m *OrderbookMaintainer) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *OrderbookMaintainer) queueReader() {
	for {
		select {
		case <-m.done:
			return
		default:
		}

		m.mu.Lock()
		if m.depthUpdateQueue.Len() == 0 {
			m.mu.Unlock()
			time.Sleep(100 * time.Millisecond)
			continue
		}

		update := m.depthUpdateQueue.PopFront()
		err := m.validator.Validate(update, m.orderBook.LastUpdateID)
		switch err {
		case nil:
			m.orderBook.ApplyDelta(update)
			m.outOfSequenceErrors = 0
		case ErrDepthUpdateOutdated:
			// precedes the snapshot, skip
		case ErrDepthUpdateOutOfSequence:
			m.outOfSequenceErrors++
			if m.outOfSequenceErrors > outOfSequenceThreshold {
				m.mu.Unlock()
				m.resync()
				continue
			}
		}
		m.mu.Unlock()
	}
}

// resync re-bootstraps the book from a fresh snapshot. Queued updates older
// than the snapshot will be dropped by the validator on the next drain.
func (m *OrderbookMaintainer) resync() {
	m.orderBook.MarkStale()

	snapshot, err := m.syncAPI.OrderBookSnapshot(m.orderBook.Symbol, m.maxDepth)
	if err != nil {
		log.Errorf("resync snapshot failed for %s: %s", m.orderBook.Symbol.String(), err)
		return
	}

	if err := m.orderBook.ResetFromSnapshot(snapshot); err != nil {
		log.Errorf("resync rebuild failed for %s: %s", m.orderBook.Symbol.String(), err)
		return
	}

	m.mu.Lock()
	m.outOfSequenceErrors = 0
	m.mu.Unlock()

	log.Infof("orderbook resynced after gap: %s", m.orderBook.Symbol.String())
}

func (m *OrderbookMaintainer) reconnectListener() {
	reconnects := m.streamAPI.Reconnects()
	for {
		select {
		case <-m.done:
			return
		case _, ok := <-reconnects:
			if !ok {
				return
			}
			// the stream had a gap; local state may be stale
			m.resync()
		}
	}
}

func (m *OrderbookMaintainer) runStreamSubscriber(symbol *MarketSymbol) (<-chan struct{}, error) {
	firstUpdateSeen := false
	onFirstUpdate := make(chan struct{})

	subscription, err := m.streamAPI.DepthDiffStream(symbol)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-m.done:
				subscription.Unsubscribe()
				return
			case update, ok := <-subscription.Stream:
				if !ok {
					return
				}
				m.mu.Lock()
				m.depthUpdateQueue.PushBack(update)
				m.mu.Unlock()

				if !firstUpdateSeen {
					close(onFirstUpdate)
					firstUpdateSeen = true
				}
			}
		}
	}()

	return onFirstUpdate, nil
}

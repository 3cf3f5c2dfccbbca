package domain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketfeed/logger"
)

// Quote assets the resolver recognizes, checked longest-first so that
// e.g. "USDT" wins over "USD" for "btcusdt".
var knownQuoteAssets = []string{
	"USDT", "USDC", "TUSD", "BUSD", "FDUSD",
	"BTC", "ETH", "BNB", "EUR", "GBP", "TRY", "USD",
}

// SymbolRegistry maps wire-level stream identifiers (e.g. "btcusdt@depth")
// to MarketSymbol values. Resolved mappings are cached for the process
// lifetime unless evicted on unsubscribe.
type SymbolRegistry struct {
	mu    sync.RWMutex
	cache map[string]*MarketSymbol

	log *logrus.Entry
}

func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{
		cache: make(map[string]*MarketSymbol),
		log:   logger.WithComponent("symbol-registry"),
	}
}

// Resolve derives the market symbol from a stream identifier. The channel
// suffix (everything after '@') is ignored. Pair parsing tries the known
// quote-asset list first and falls back to a fixed-width split, which may
// misparse novel assets; the fallback is logged.
func (r *SymbolRegistry) Resolve(streamID string) (*MarketSymbol, error) {
	r.mu.RLock()
	if s, ok := r.cache[streamID]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	pair := streamID
	if i := strings.IndexByte(pair, '@'); i >= 0 {
		pair = pair[:i]
	}

	symbol, err := r.parsePair(pair)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[streamID] = symbol
	r.mu.Unlock()
	return symbol, nil
}

// Evict drops the cached mapping for a stream, bounding memory in
// long-running processes with high symbol churn.
func (r *SymbolRegistry) Evict(streamID string) {
	r.mu.Lock()
	delete(r.cache, streamID)
	r.mu.Unlock()
}

func (r *SymbolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *SymbolRegistry) parsePair(pair string) (*MarketSymbol, error) {
	upper := strings.ToUpper(pair)

	for _, quote := range knownQuoteAssets {
		if len(upper) > len(quote) && strings.HasSuffix(upper, quote) {
			return NewMarketSymbol(upper[:len(upper)-len(quote)], quote)
		}
	}

	// Best-effort fallback: take the last 4 (or 3) characters as the quote.
	// May misparse assets outside of the known quote list.
	if len(upper) >= 6 {
		r.log.Warnf("unknown quote asset, falling back to fixed-width split: %s", pair)
		cut := len(upper) - 4
		if len(upper) < 7 {
			cut = len(upper) - 3
		}
		return NewMarketSymbol(upper[:cut], upper[cut:])
	}

	return nil, fmt.Errorf("unable to resolve symbol from stream id %q", pair)
}

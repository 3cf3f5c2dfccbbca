package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketfeed/domain"
	"github.com/spooky-finn/go-marketfeed/logger"
)

// SyncAPI fetches full-depth order book snapshots over the exchange REST
// API. Used for the initial bootstrap of a local book and for resync after
// a detected gap. Safe to call concurrently for different symbols.
type SyncAPI struct {
	endpoint string
	client   *http.Client
	log      *logrus.Entry
}

type depthResponse struct {
	LastUpdateId int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func NewSyncAPI(endpoint string) *SyncAPI {
	return &SyncAPI{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger.WithComponent("sync-api"),
	}
}

func (api *SyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	url := fmt.Sprintf("%s/depth?symbol=%s&limit=%d",
		api.endpoint, strings.ToUpper(symbol.Join("")), limit)

	resp, err := api.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("depth snapshot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("depth snapshot request: unexpected status %d", resp.StatusCode)
	}

	var payload depthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("depth snapshot decode: %w", err)
	}

	api.log.Debugf("fetched depth snapshot: symbol=%s lastUpdateId=%d", symbol.String(), payload.LastUpdateId)

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateId: payload.LastUpdateId,
		Bids:         payload.Bids,
		Asks:         payload.Asks,
	}, nil
}

package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spooky-finn/go-marketfeed/codec"
	"github.com/spooky-finn/go-marketfeed/domain"
	"github.com/spooky-finn/go-marketfeed/provider"
)

func TestHealthUseCase_Status(t *testing.T) {
	registry := domain.NewSymbolRegistry()
	client := provider.NewStreamClient(provider.Options{Endpoint: "ws://test.invalid"}, nil)
	streamAPI := provider.NewStreamAPI("binance", client, nil, registry, &codec.Stats{}, nil)

	syncAPI := &stubSyncAPI{snapshot: &domain.OrderBookSnapshot{LastUpdateId: 1}}
	snapshots := NewOrderBookSnapshotUseCase(&stubStreamAPI{syncAPI: syncAPI}, syncAPI, 100)

	health := NewHealthUseCase(client, streamAPI, snapshots)
	status := health.Status()

	assert.False(t, status.Connected)
	assert.Equal(t, "disconnected", status.State)
	assert.Equal(t, 0, status.ActiveStreams)
	assert.Equal(t, 0, status.RetryCount)
	assert.Empty(t, status.Books)
	assert.Equal(t, int64(0), status.Decoder.Frames)
}

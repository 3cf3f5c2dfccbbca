package usecase

import (
	"github.com/spooky-finn/go-marketfeed/codec"
	"github.com/spooky-finn/go-marketfeed/provider"
)

// HealthStatus is the externally polled status surface. Everything in it
// comes from atomic counters or short-held per-book locks, so computing it
// is cheap.
type HealthStatus struct {
	Connected     bool                `json:"connected"`
	State         string              `json:"state"`
	ActiveStreams int                 `json:"active_streams"`
	RetryCount    int                 `json:"retry_count"`
	Books         map[string][2]int   `json:"books"`
	Decoder       codec.StatsSnapshot `json:"decoder"`
}

type HealthUseCase struct {
	client    *provider.StreamClient
	streamAPI *provider.StreamAPI
	snapshots *OrderBookSnapshotUseCase
}

func NewHealthUseCase(
	client *provider.StreamClient,
	streamAPI *provider.StreamAPI,
	snapshots *OrderBookSnapshotUseCase,
) *HealthUseCase {
	return &HealthUseCase{
		client:    client,
		streamAPI: streamAPI,
		snapshots: snapshots,
	}
}

func (h *HealthUseCase) Status() HealthStatus {
	state := h.client.State()
	return HealthStatus{
		Connected:     state == provider.StateConnected,
		State:         state.String(),
		ActiveStreams: h.client.ActiveStreams(),
		RetryCount:    h.client.RetryCount(),
		Books:         h.snapshots.BookSizes(),
		Decoder:       h.streamAPI.DecoderStats(),
	}
}

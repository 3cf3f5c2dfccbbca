package provider

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-marketfeed/domain"
)

func TestSyncAPI_OrderBookSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"lastUpdateId": 12345,
			"bids": [["100.5", "2"], ["100", "1"]],
			"asks": [["101", "3"]]
		}`))
	}))
	defer server.Close()

	api := NewSyncAPI(server.URL)
	snapshot, err := api.OrderBookSnapshot(btcSymbol(t), 100)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderBookSource_Provider, snapshot.Source)
	assert.Equal(t, int64(12345), snapshot.LastUpdateId)
	assert.Equal(t, [][]string{{"100.5", "2"}, {"100", "1"}}, snapshot.Bids)
	assert.Equal(t, [][]string{{"101", "3"}}, snapshot.Asks)
}

func TestSyncAPI_TrailingSlashEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/depth", r.URL.Path)
		_, _ = w.Write([]byte(`{"lastUpdateId": 1, "bids": [], "asks": []}`))
	}))
	defer server.Close()

	api := NewSyncAPI(server.URL + "/")
	_, err := api.OrderBookSnapshot(btcSymbol(t), 10)
	assert.NoError(t, err)
}

func TestSyncAPI_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer server.Close()

	api := NewSyncAPI(server.URL)
	_, err := api.OrderBookSnapshot(btcSymbol(t), 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
}

func TestSyncAPI_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	api := NewSyncAPI(server.URL)
	_, err := api.OrderBookSnapshot(btcSymbol(t), 100)
	assert.Error(t, err)
}

func TestSyncAPI_ServerUnreachable(t *testing.T) {
	api := NewSyncAPI("http://127.0.0.1:1")
	_, err := api.OrderBookSnapshot(btcSymbol(t), 100)
	assert.Error(t, err)
}

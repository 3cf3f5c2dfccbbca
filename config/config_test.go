package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
feed:
  ws_endpoint: "wss://example.test/stream"
  rest_endpoint: "https://example.test/api"
  symbols:
    - "btc_usdt"
    - "eth_usdt"
  handshake_timeout: 3s
  idle_timeout: 45s
  max_retries: 7
  backoff_cap: 1m
orderbook:
  depth_limit: 250
decoder:
  cache_capacity: 64
log:
  level: debug
metrics:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://example.test/stream", cfg.Feed.WsEndpoint)
	assert.Equal(t, []string{"btc_usdt", "eth_usdt"}, cfg.Feed.Symbols)
	assert.Equal(t, 3*time.Second, cfg.Feed.HandshakeTimeout.Std())
	assert.Equal(t, 45*time.Second, cfg.Feed.IdleTimeout.Std())
	assert.Equal(t, time.Minute, cfg.Feed.BackoffCap.Std())
	assert.Equal(t, 7, cfg.Feed.MaxRetries)
	assert.Equal(t, 250, cfg.Book.DepthLimit)
	assert.Equal(t, 64, cfg.Decoder.CacheCapacity)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)

	// untouched sections keep their defaults
	assert.Equal(t, 10, cfg.Feed.ReadBatchSize)
	assert.Equal(t, 1<<20, cfg.Decoder.AccumulatorLimit)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	defaults := Default()
	assert.Equal(t, defaults.Feed.WsEndpoint, cfg.Feed.WsEndpoint)
	assert.Equal(t, defaults.Book.DepthLimit, cfg.Book.DepthLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MARKETFEED_WS_ENDPOINT", "wss://override.test/stream")
	t.Setenv("LOG_LEVEL", "trace")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "wss://override.test/stream", cfg.Feed.WsEndpoint)
	assert.Equal(t, "trace", cfg.Log.Level)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
feed:
  idle_timeout: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "feed: [broken")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"EmptyEndpoint", "feed:\n  ws_endpoint: \"\"\n"},
		{"ZeroDepthLimit", "orderbook:\n  depth_limit: -5\n"},
		{"NegativeRetries", "feed:\n  max_retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestDuration_Std(t *testing.T) {
	d := Duration(90 * time.Second)
	assert.Equal(t, 90*time.Second, d.Std())
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Book    BookConfig    `yaml:"orderbook"`
	Decoder DecoderConfig `yaml:"decoder"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type FeedConfig struct {
	WsEndpoint   string   `yaml:"ws_endpoint"`
	RestEndpoint string   `yaml:"rest_endpoint"`
	Symbols      []string `yaml:"symbols"`

	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	IdleTimeout      Duration `yaml:"idle_timeout"`
	MaxRetries       int      `yaml:"max_retries"`
	BackoffCap       Duration `yaml:"backoff_cap"`
	ReadBatchSize    int      `yaml:"read_batch_size"`
}

// Duration is a yaml-parsable time.Duration ("5s", "1m30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type BookConfig struct {
	DepthLimit int `yaml:"depth_limit"`
}

type DecoderConfig struct {
	CacheCapacity    int `yaml:"cache_capacity"`
	CacheMaxFrame    int `yaml:"cache_max_frame"`
	AccumulatorLimit int `yaml:"accumulator_limit"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			WsEndpoint:       "wss://stream.binance.com:9443/stream",
			RestEndpoint:     "https://api.binance.com/api/v3",
			HandshakeTimeout: Duration(5 * time.Second),
			IdleTimeout:      Duration(30 * time.Second),
			MaxRetries:       10,
			BackoffCap:       Duration(30 * time.Second),
			ReadBatchSize:    10,
		},
		Book: BookConfig{
			DepthLimit: 100,
		},
		Decoder: DecoderConfig{
			CacheCapacity:    512,
			CacheMaxFrame:    2 << 10,
			AccumulatorLimit: 1 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

// Load reads the YAML config at path on top of the defaults.
// A missing file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MARKETFEED_WS_ENDPOINT"); v != "" {
		c.Feed.WsEndpoint = v
	}
	if v := os.Getenv("MARKETFEED_REST_ENDPOINT"); v != "" {
		c.Feed.RestEndpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Feed.WsEndpoint == "" {
		return fmt.Errorf("feed.ws_endpoint must not be empty")
	}
	if c.Book.DepthLimit <= 0 {
		return fmt.Errorf("orderbook.depth_limit must be positive")
	}
	if c.Feed.MaxRetries <= 0 {
		return fmt.Errorf("feed.max_retries must be positive")
	}
	return nil
}

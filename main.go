package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spooky-finn/go-marketfeed/codec"
	"github.com/spooky-finn/go-marketfeed/config"
	"github.com/spooky-finn/go-marketfeed/domain"
	"github.com/spooky-finn/go-marketfeed/helpers"
	promclient "github.com/spooky-finn/go-marketfeed/infrastructure/prometheus"
	"github.com/spooky-finn/go-marketfeed/logger"
	"github.com/spooky-finn/go-marketfeed/provider"
	"github.com/spooky-finn/go-marketfeed/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	flag.Parse()

	log := logger.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}

	logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		JSONFormat: cfg.Log.JSONFormat,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	registry := domain.NewSymbolRegistry()
	stats := &codec.Stats{}

	client := provider.NewStreamClient(provider.Options{
		Endpoint:         cfg.Feed.WsEndpoint,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout.Std(),
		IdleTimeout:      cfg.Feed.IdleTimeout.Std(),
		MaxRetries:       cfg.Feed.MaxRetries,
		BackoffCap:       cfg.Feed.BackoffCap.Std(),
		ReadBatchSize:    cfg.Feed.ReadBatchSize,
	}, nil)

	syncAPI := provider.NewSyncAPI(cfg.Feed.RestEndpoint)
	streamAPI := provider.NewStreamAPI("binance", client, syncAPI, registry, stats, &codec.Options{
		CacheCapacity:    cfg.Decoder.CacheCapacity,
		CacheMaxFrame:    cfg.Decoder.CacheMaxFrame,
		AccumulatorLimit: cfg.Decoder.AccumulatorLimit,
	})

	streamAPI.OnMessage(func(msg *domain.ParsedMessage) {
		if msg.Channel == domain.Channel_Trades {
			log.Debugf("trades %s: %d prints", msg.StreamID, len(msg.Trades.Trades))
		}
	})

	if err := client.Start(); err != nil {
		log.Fatalf("failed to start stream client: %s", err)
	}

	snapshots := usecase.NewOrderBookSnapshotUseCase(streamAPI, syncAPI, cfg.Book.DepthLimit)
	health := usecase.NewHealthUseCase(client, streamAPI, snapshots)

	if cfg.Metrics.Enabled {
		exporter := promclient.NewExporter(health)
		go func() {
			if err := exporter.Serve(cfg.Metrics.Addr); err != nil {
				log.Errorf("metrics server failed: %s", err)
			}
		}()
	}

	for _, raw := range cfg.Feed.Symbols {
		symbol, err := domain.NewMarketSymbolFromString(raw)
		if err != nil {
			log.Fatalf("invalid symbol %q in config: %s", raw, err)
		}
		if _, err := snapshots.GetOrderBookSnapshot(symbol, cfg.Book.DepthLimit); err != nil {
			log.Warnf("initial snapshot for %s failed: %s", symbol.String(), err)
		}
	}

	log.Infof("startup health: %s", helpers.ToJsonString(health.Status()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	client.Stop()
}

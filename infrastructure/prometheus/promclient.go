package promclient

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spooky-finn/go-marketfeed/logger"
	"github.com/spooky-finn/go-marketfeed/usecase"
)

// Exporter publishes the health surface as prometheus metrics plus a JSON
// /health endpoint for external monitoring.
type Exporter struct {
	health *usecase.HealthUseCase
	reg    *prometheus.Registry

	connected     prometheus.Gauge
	activeStreams prometheus.Gauge
	retryCount    prometheus.Gauge
	openBooks     prometheus.Gauge
	frames        prometheus.Gauge
	framesDropped prometheus.Gauge
	cacheHits     prometheus.Gauge
	cacheMisses   prometheus.Gauge
	depthUpdates  prometheus.Gauge
}

func NewExporter(health *usecase.HealthUseCase) *Exporter {
	e := &Exporter{
		health: health,
		reg:    prometheus.NewRegistry(),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_connected",
			Help: "1 when the stream connection is established",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_active_streams",
			Help: "number of tracked stream subscriptions",
		}),
		retryCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_retry_count",
			Help: "current reconnect retry count",
		}),
		openBooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_open_order_books",
			Help: "number of maintained local order books",
		}),
		frames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_frames_total",
			Help: "frames seen by the decoder",
		}),
		framesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_frames_dropped_total",
			Help: "frames dropped by the fragment accumulator",
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_decode_cache_hits_total",
			Help: "decode result cache hits",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_decode_cache_misses_total",
			Help: "decode result cache misses",
		}),
		depthUpdates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_depth_updates_total",
			Help: "depth delta messages decoded",
		}),
	}

	e.reg.MustRegister(
		e.connected, e.activeStreams, e.retryCount, e.openBooks,
		e.frames, e.framesDropped, e.cacheHits, e.cacheMisses, e.depthUpdates,
		collectors.NewGoCollector(),
	)
	return e
}

func (e *Exporter) refresh() {
	status := e.health.Status()

	if status.Connected {
		e.connected.Set(1)
	} else {
		e.connected.Set(0)
	}
	e.activeStreams.Set(float64(status.ActiveStreams))
	e.retryCount.Set(float64(status.RetryCount))
	e.openBooks.Set(float64(len(status.Books)))
	e.frames.Set(float64(status.Decoder.Frames))
	e.framesDropped.Set(float64(status.Decoder.FramesDropped))
	e.cacheHits.Set(float64(status.Decoder.CacheHits))
	e.cacheMisses.Set(float64(status.Decoder.CacheMisses))
	e.depthUpdates.Set(float64(status.Decoder.DepthUpdates))
}

// Serve blocks on the metrics HTTP listener. Gauges refresh on a fixed
// interval rather than per scrape.
func (e *Exporter) Serve(addr string) error {
	log := logger.WithComponent("promclient")

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			e.refresh()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.health.Status())
	})

	log.Infof("metrics server listening at %s", addr)
	return http.ListenAndServe(addr, mux)
}

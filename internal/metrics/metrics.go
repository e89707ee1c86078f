// Package metrics exposes Prometheus counters and histograms for provider
// operations: one counter/duration pair per (provider, operation), byte
// counters per transfer direction, an error counter keyed by the closed
// error-kind taxonomy, and a gauge of live sessions.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

// Config tunes the collector and its scrape endpoint.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector registers and serves the aerocore metric families. A disabled
// collector is a valid no-op recorder, so call sites never nil-check.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry
	server   *http.Server
	cfg      Config

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorCounter      *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// NewCollector builds a Collector; pass nil for defaults.
func NewCollector(cfg *Config) *Collector {
	if cfg == nil {
		cfg = &Config{Enabled: true, Port: 9090, Path: "/metrics", Namespace: "aerocore"}
	}
	if !cfg.Enabled {
		return &Collector{cfg: *cfg}
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "aerocore"
	}

	c := &Collector{enabled: true, cfg: *cfg, registry: prometheus.NewRegistry()}

	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "operations_total",
		Help:      "Provider operations by provider, operation, and outcome",
	}, []string{"provider", "operation", "status"})

	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Name:      "operation_duration_seconds",
		Help:      "Provider operation latency",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2.5, 12),
	}, []string{"provider", "operation"})

	c.bytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "bytes_transferred_total",
		Help:      "Bytes moved per provider and direction",
	}, []string{"provider", "direction"})

	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "errors_total",
		Help:      "Provider errors by kind",
	}, []string{"provider", "kind"})

	c.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "active_sessions",
		Help:      "Number of live provider sessions",
	})

	c.registry.MustRegister(c.operationCounter, c.operationDuration, c.bytesTransferred, c.errorCounter, c.activeSessions)
	return c
}

// Start serves the scrape endpoint until Stop or ctx cancellation.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", c.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()
	go func() {
		_ = c.server.ListenAndServe()
	}()
	return nil
}

// Stop shuts the scrape endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordOperation accounts one provider operation: its latency, outcome,
// and (for errors) the taxonomy kind.
func (c *Collector) RecordOperation(provider, operation string, d time.Duration, err error) {
	if !c.enabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		c.errorCounter.WithLabelValues(provider, providererr.KindOf(err).String()).Inc()
	}
	c.operationCounter.WithLabelValues(provider, operation, status).Inc()
	c.operationDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// RecordBytes accounts transferred bytes; direction is "up" or "down".
func (c *Collector) RecordBytes(provider, direction string, n int64) {
	if !c.enabled || n <= 0 {
		return
	}
	c.bytesTransferred.WithLabelValues(provider, direction).Add(float64(n))
}

// SessionOpened / SessionClosed move the live-session gauge.
func (c *Collector) SessionOpened() {
	if c.enabled {
		c.activeSessions.Inc()
	}
}

// SessionClosed decrements the live-session gauge.
func (c *Collector) SessionClosed() {
	if c.enabled {
		c.activeSessions.Dec()
	}
}

// Registry exposes the underlying registry for tests and embedding.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Device metrics
	OpensTotal     prometheus.Counter
	SessionsActive prometheus.Gauge
	WritesTotal    prometheus.Counter
	ChunksTotal    prometheus.Counter
	BytesIngested  prometheus.Counter
	WriteDuration  prometheus.Histogram

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex

	stop chan struct{}
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	OpensTotal     int64   `json:"opens_total"`
	SessionsActive int64   `json:"sessions_active"`
	WritesTotal    int64   `json:"writes_total"`
	ChunksTotal    int64   `json:"chunks_total"`
	BytesIngested  int64   `json:"bytes_ingested"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a new metrics collector backed by its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,
		stop:      make(chan struct{}),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chardevd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chardevd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		OpensTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chardevd_opens_total",
				Help: "Total number of device open calls",
			},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chardevd_sessions_active",
				Help: "Number of sessions currently open",
			},
		),
		WritesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chardevd_writes_total",
				Help: "Total number of device write calls",
			},
		),
		ChunksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chardevd_chunks_total",
				Help: "Total number of chunks emitted by the ingestion path",
			},
		),
		BytesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chardevd_bytes_ingested_total",
				Help: "Total number of bytes accepted by device writes",
			},
		),
		WriteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chardevd_write_duration_seconds",
				Help:    "Device write duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chardevd_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Registry exposes the underlying registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Close stops the background uptime updater
func (m *Metrics) Close() {
	close(m.stop)
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.stop:
			return
		}
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOpen records a device open and the session it started
func (m *Metrics) RecordOpen() {
	m.OpensTotal.Inc()
	m.SessionsActive.Inc()

	m.mu.Lock()
	m.snapshot.OpensTotal++
	m.snapshot.SessionsActive++
	m.mu.Unlock()
}

// RecordRelease records a device release
func (m *Metrics) RecordRelease() {
	m.SessionsActive.Dec()

	m.mu.Lock()
	m.snapshot.SessionsActive--
	m.mu.Unlock()
}

// RecordWrite records one write call and the chunks it emitted
func (m *Metrics) RecordWrite(bytes, chunks int, duration time.Duration) {
	m.WritesTotal.Inc()
	m.ChunksTotal.Add(float64(chunks))
	m.BytesIngested.Add(float64(bytes))
	m.WriteDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.WritesTotal++
	m.snapshot.ChunksTotal += int64(chunks)
	m.snapshot.BytesIngested += int64(bytes)
	m.mu.Unlock()
}

// GetSnapshot returns current metric values for the JSON API
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}

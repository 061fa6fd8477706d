// Package metrics records stream and HTTP activity of Classroom Kit as
// Prometheus metrics, with an in-memory snapshot for local reporting.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// Collector implements streaming.StreamObserver and http.RequestObserver.
// It is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	streamsActive  prometheus.Gauge
	streamsOpened  *prometheus.CounterVec
	streamEvents   *prometheus.CounterVec
	streamErrors   *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec

	active        atomic.Int64
	requests      atomic.Int64
	requestErrors atomic.Int64
	latency       *Histogram

	mu        sync.Mutex
	endpoints map[string]*endpointMetrics
}

type endpointMetrics struct {
	opened    int64
	closed    int64
	events    map[types.EventStatus]int64
	errors    map[types.ErrorKind]int64
	durations *Histogram
}

// EndpointStats is the snapshot of one chat endpoint.
type EndpointStats struct {
	Opened    int64                       `json:"opened"`
	Closed    int64                       `json:"closed"`
	Events    map[types.EventStatus]int64 `json:"events"`
	Errors    map[types.ErrorKind]int64   `json:"errors"`
	Durations LatencySummary              `json:"durations"`
}

// Snapshot is a point-in-time copy of everything the collector saw.
type Snapshot struct {
	ActiveStreams  int64                    `json:"active_streams"`
	Endpoints      map[string]EndpointStats `json:"endpoints"`
	Requests       int64                    `json:"requests"`
	RequestErrors  int64                    `json:"request_errors"`
	RequestLatency LatencySummary           `json:"request_latency"`
}

// NewCollector registers the metrics under namespace in registry. A nil
// registry gets a fresh one, so collectors never clash in the default
// registry.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		streamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of chat streams currently open",
		}),
		streamsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_opened_total",
			Help:      "Total number of chat streams accepted by the backend",
		}, []string{"endpoint"}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Total number of stream events delivered, by status",
		}, []string{"endpoint", "status"}),
		streamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total number of stream errors, by kind",
		}, []string{"endpoint", "kind"}),
		streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Time from stream open to release",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"endpoint"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of backend round trips",
		}, []string{"method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Backend round trip duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		latency:   NewHistogram(1000),
		endpoints: make(map[string]*endpointMetrics),
	}
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) endpoint(name string) *endpointMetrics {
	m, ok := c.endpoints[name]
	if !ok {
		m = &endpointMetrics{
			events:    make(map[types.EventStatus]int64),
			errors:    make(map[types.ErrorKind]int64),
			durations: NewHistogram(200),
		}
		c.endpoints[name] = m
	}
	return m
}

// StreamOpened records a stream accepted by the backend.
func (c *Collector) StreamOpened(endpoint string) {
	c.active.Add(1)
	c.streamsActive.Inc()
	c.streamsOpened.WithLabelValues(endpoint).Inc()

	c.mu.Lock()
	c.endpoint(endpoint).opened++
	c.mu.Unlock()
}

// EventReceived records one delivered event.
func (c *Collector) EventReceived(endpoint string, status types.EventStatus) {
	c.streamEvents.WithLabelValues(endpoint, statusLabel(status)).Inc()

	c.mu.Lock()
	c.endpoint(endpoint).events[status]++
	c.mu.Unlock()
}

// StreamFailed records an error reported to a consumer.
func (c *Collector) StreamFailed(endpoint string, kind types.ErrorKind) {
	c.streamErrors.WithLabelValues(endpoint, string(kind)).Inc()

	c.mu.Lock()
	c.endpoint(endpoint).errors[kind]++
	c.mu.Unlock()
}

// StreamClosed records the release of an opened stream.
func (c *Collector) StreamClosed(endpoint string, duration time.Duration) {
	c.active.Add(-1)
	c.streamsActive.Dec()
	c.streamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

	c.mu.Lock()
	m := c.endpoint(endpoint)
	m.closed++
	m.durations.Add(duration)
	c.mu.Unlock()
}

// ObserveRequest records one backend round trip. status is 0 when the
// request failed before a response arrived.
func (c *Collector) ObserveRequest(method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(duration.Seconds())

	c.requests.Add(1)
	if status == 0 || status >= 400 {
		c.requestErrors.Add(1)
	}
	c.latency.Add(duration)
}

// Snapshot returns a copy of the collected statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	endpoints := make(map[string]EndpointStats, len(c.endpoints))
	for name, m := range c.endpoints {
		stats := EndpointStats{
			Opened:    m.opened,
			Closed:    m.closed,
			Events:    make(map[types.EventStatus]int64, len(m.events)),
			Errors:    make(map[types.ErrorKind]int64, len(m.errors)),
			Durations: m.durations.Summary(),
		}
		for k, v := range m.events {
			stats.Events[k] = v
		}
		for k, v := range m.errors {
			stats.Errors[k] = v
		}
		endpoints[name] = stats
	}
	c.mu.Unlock()

	return Snapshot{
		ActiveStreams:  c.active.Load(),
		Endpoints:      endpoints,
		Requests:       c.requests.Load(),
		RequestErrors:  c.requestErrors.Load(),
		RequestLatency: c.latency.Summary(),
	}
}

// statusLabel bounds label cardinality to the known statuses.
func statusLabel(status types.EventStatus) string {
	if status.Valid() {
		return string(status)
	}
	return "other"
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 200 || status >= 600:
		return strconv.Itoa(status)
	default:
		return strconv.Itoa(status/100) + "xx"
	}
}

// Package metrics provides Prometheus metrics instrumentation for the proxy.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
type Collector interface {
	// Watch metrics
	RecordWatchEvent(ctx context.Context, eventType string)
	RecordWatchRestart(ctx context.Context)
	RecordWatchError(ctx context.Context, errorType string)
	RecordEventDropped(ctx context.Context, reason string)

	// Route table metrics
	RecordEventApplied(ctx context.Context, kind, status string, duration time.Duration)
	RecordSnapshotHosts(ctx context.Context, count int)

	// Request metrics
	RecordRequest(ctx context.Context, result string, status int, duration time.Duration)

	// Config metrics
	RecordConfigResolve(ctx context.Context, status string)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Watch metrics
	watchEventsTotal   *prometheus.CounterVec
	watchRestartsTotal prometheus.Counter
	watchErrorsTotal   *prometheus.CounterVec
	eventsDroppedTotal *prometheus.CounterVec

	// Route table metrics
	applyDuration      *prometheus.HistogramVec
	eventsAppliedTotal *prometheus.CounterVec
	snapshotHosts      prometheus.Gauge

	// Request metrics
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec

	// Config metrics
	configResolveTotal *prometheus.CounterVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initWatchMetrics()
	c.initTableMetrics()
	c.initRequestMetrics()
	c.initConfigMetrics()
	c.register(reg)

	return c
}

// RecordWatchEvent records a raw event received from the ingress watch.
func (c *prometheusCollector) RecordWatchEvent(_ context.Context, eventType string) {
	c.watchEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordWatchRestart records a full relist of ingresses.
func (c *prometheusCollector) RecordWatchRestart(_ context.Context) {
	c.watchRestartsTotal.Inc()
}

// RecordWatchError records a watch error by type.
func (c *prometheusCollector) RecordWatchError(_ context.Context, errorType string) {
	c.watchErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordEventDropped records an ingress event that never reached the route table.
func (c *prometheusCollector) RecordEventDropped(_ context.Context, reason string) {
	c.eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordEventApplied records an ingress event processed by the route table.
func (c *prometheusCollector) RecordEventApplied(
	_ context.Context,
	kind, status string,
	duration time.Duration,
) {
	c.applyDuration.WithLabelValues(kind).Observe(duration.Seconds())
	c.eventsAppliedTotal.WithLabelValues(kind, status).Inc()
}

// RecordSnapshotHosts records the number of hosts in the published snapshot.
func (c *prometheusCollector) RecordSnapshotHosts(_ context.Context, count int) {
	c.snapshotHosts.Set(float64(count))
}

// RecordRequest records a proxied request.
func (c *prometheusCollector) RecordRequest(
	_ context.Context,
	result string,
	status int,
	duration time.Duration,
) {
	c.requestDuration.WithLabelValues(result).Observe(duration.Seconds())
	c.requestsTotal.WithLabelValues(result, strconv.Itoa(status)).Inc()
}

// RecordConfigResolve records a Pod config resolution attempt.
func (c *prometheusCollector) RecordConfigResolve(_ context.Context, status string) {
	c.configResolveTotal.WithLabelValues(status).Inc()
}

func (c *prometheusCollector) initWatchMetrics() {
	c.watchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kip_watch_events_total",
			Help: "Total ingress watch events by type",
		},
		[]string{"type"},
	)
	c.watchRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kip_watch_restarts_total",
			Help: "Total full ingress relists",
		},
	)
	c.watchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kip_watch_errors_total",
			Help: "Total ingress watch errors by type",
		},
		[]string{"error_type"},
	)
	c.eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kip_events_dropped_total",
			Help: "Total ingress events dropped before reaching the route table",
		},
		[]string{"reason"},
	)
}

func (c *prometheusCollector) initTableMetrics() {
	c.applyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kip_event_apply_duration_seconds",
			Help:    "Duration of applying an ingress event to the route table",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"kind"},
	)
	c.eventsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kip_events_applied_total",
			Help: "Total ingress events processed by the route table",
		},
		[]string{"kind", "status"},
	)
	c.snapshotHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kip_snapshot_hosts",
			Help: "Number of hosts in the published route snapshot",
		},
	)
}

func (c *prometheusCollector) initRequestMetrics() {
	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kip_request_duration_seconds",
			Help:    "Duration of proxied requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kip_requests_total",
			Help: "Total proxied requests by routing result and status code",
		},
		[]string{"result", "code"},
	)
}

func (c *prometheusCollector) initConfigMetrics() {
	c.configResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kip_config_resolve_total",
			Help: "Total Pod config resolution attempts by status",
		},
		[]string{"status"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.watchEventsTotal,
		c.watchRestartsTotal,
		c.watchErrorsTotal,
		c.eventsDroppedTotal,
		c.applyDuration,
		c.eventsAppliedTotal,
		c.snapshotHosts,
		c.requestDuration,
		c.requestsTotal,
		c.configResolveTotal,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordWatchEvent is a no-op.
func (c *NoopCollector) RecordWatchEvent(_ context.Context, _ string) {}

// RecordWatchRestart is a no-op.
func (c *NoopCollector) RecordWatchRestart(_ context.Context) {}

// RecordWatchError is a no-op.
func (c *NoopCollector) RecordWatchError(_ context.Context, _ string) {}

// RecordEventDropped is a no-op.
func (c *NoopCollector) RecordEventDropped(_ context.Context, _ string) {}

// RecordEventApplied is a no-op.
func (c *NoopCollector) RecordEventApplied(_ context.Context, _, _ string, _ time.Duration) {}

// RecordSnapshotHosts is a no-op.
func (c *NoopCollector) RecordSnapshotHosts(_ context.Context, _ int) {}

// RecordRequest is a no-op.
func (c *NoopCollector) RecordRequest(_ context.Context, _ string, _ int, _ time.Duration) {}

// RecordConfigResolve is a no-op.
func (c *NoopCollector) RecordConfigResolve(_ context.Context, _ string) {}

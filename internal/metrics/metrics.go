// ============================================================================
// Beaver-MQ Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose broker metrics for Prometheus scraping
//
// Metric Categories:
//
//   1. Delivery counters (per queue, monotonically increasing):
//      - broker_messages_published_total
//      - broker_messages_consumed_total
//      - broker_messages_acked_total
//      - broker_messages_nacked_total
//      - broker_messages_timed_out_total
//      - broker_messages_requeued_total
//      - broker_messages_dead_lettered_total
//      - broker_messages_dropped_total
//
//   2. Occupancy gauges (per queue, instantaneous):
//      - broker_queue_ready
//      - broker_queue_in_flight
//
// Prometheus Query Examples:
//
//   # Deliveries per minute for one queue
//   rate(broker_messages_consumed_total{queue="orders"}[1m])
//
//   # Redelivery ratio
//   rate(broker_messages_requeued_total[5m]) /
//     rate(broker_messages_consumed_total[5m])
//
//   # Backlog
//   broker_queue_ready + broker_queue_in_flight
//
// HTTP Endpoint:
//   Handler() serves the collector's registry in Prometheus text format;
//   the CLI mounts it at /metrics when metrics are enabled.
//
// Concurrency:
//   Counter and gauge operations are atomic; every Record* method and
//   SetQueueDepth on a nil *Collector is a no-op so queues can run
//   unmetered. Handler requires a non-nil collector.
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the broker's Prometheus instruments. Each collector owns
// its own registry so independent brokers (and tests) never collide.
type Collector struct {
	registry *prometheus.Registry

	published    *prometheus.CounterVec
	consumed     *prometheus.CounterVec
	acked        *prometheus.CounterVec
	nacked       *prometheus.CounterVec
	timedOut     *prometheus.CounterVec
	requeued     *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	dropped      *prometheus.CounterVec

	ready    *prometheus.GaugeVec
	inFlight *prometheus.GaugeVec
}

// NewCollector creates a collector with all instruments registered.
func NewCollector() *Collector {
	queueLabel := []string{"queue"}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages published",
		}, queueLabel),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total number of deliveries handed to consumers",
		}, queueLabel),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_acked_total",
			Help: "Total number of deliveries acknowledged",
		}, queueLabel),
		nacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_nacked_total",
			Help: "Total number of deliveries explicitly rejected",
		}, queueLabel),
		timedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_timed_out_total",
			Help: "Total number of deliveries past the visibility timeout",
		}, queueLabel),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_requeued_total",
			Help: "Total number of messages returned to the ready queue",
		}, queueLabel),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_dead_lettered_total",
			Help: "Total number of messages routed to a dead-letter queue",
		}, queueLabel),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_dropped_total",
			Help: "Total number of messages dropped with no dead-letter queue",
		}, queueLabel),
		ready: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broker_queue_ready",
			Help: "Current number of messages awaiting delivery",
		}, queueLabel),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broker_queue_in_flight",
			Help: "Current number of unfinalized deliveries",
		}, queueLabel),
	}

	c.registry.MustRegister(
		c.published, c.consumed, c.acked, c.nacked,
		c.timedOut, c.requeued, c.deadLettered, c.dropped,
		c.ready, c.inFlight,
	)

	return c
}

// Handler serves this collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPublish records a message entering the ready queue.
func (c *Collector) RecordPublish(queue string) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(queue).Inc()
}

// RecordConsume records a delivery handed to a consumer.
func (c *Collector) RecordConsume(queue string) {
	if c == nil {
		return
	}
	c.consumed.WithLabelValues(queue).Inc()
}

// RecordAck records an acknowledged delivery.
func (c *Collector) RecordAck(queue string) {
	if c == nil {
		return
	}
	c.acked.WithLabelValues(queue).Inc()
}

// RecordNack records an explicitly rejected delivery.
func (c *Collector) RecordNack(queue string) {
	if c == nil {
		return
	}
	c.nacked.WithLabelValues(queue).Inc()
}

// RecordTimeout records a delivery reclaimed by the visibility scanner.
func (c *Collector) RecordTimeout(queue string) {
	if c == nil {
		return
	}
	c.timedOut.WithLabelValues(queue).Inc()
}

// RecordRequeue records a message returned to the ready queue for retry.
func (c *Collector) RecordRequeue(queue string) {
	if c == nil {
		return
	}
	c.requeued.WithLabelValues(queue).Inc()
}

// RecordDeadLettered records a message routed to a dead-letter queue.
func (c *Collector) RecordDeadLettered(queue string) {
	if c == nil {
		return
	}
	c.deadLettered.WithLabelValues(queue).Inc()
}

// RecordDropped records a message dropped at the retry limit.
func (c *Collector) RecordDropped(queue string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(queue).Inc()
}

// SetQueueDepth updates the occupancy gauges for one queue.
func (c *Collector) SetQueueDepth(queue string, ready, inFlight int) {
	if c == nil {
		return
	}
	c.ready.WithLabelValues(queue).Set(float64(ready))
	c.inFlight.WithLabelValues(queue).Set(float64(inFlight))
}

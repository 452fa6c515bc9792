package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dashboard"

// Metrics holds the collectors shared by the synchronization core.
type Metrics struct {
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	requestLatency   prometheus.Histogram
	lastLatency      prometheus.Gauge
	reconnects       prometheus.Counter
	connectionState  prometheus.Gauge
	rateLimited      prometheus.Counter
	batchFlushes     prometheus.Counter
	batchSize        prometheus.Histogram
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	stateFetches     prometheus.Counter

	sent        atomic.Int64
	received    atomic.Int64
	latencyNs   atomic.Int64
	reconnected atomic.Int64
	limited     atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	fetches     atomic.Int64
}

// Snapshot is a point-in-time copy of the counters. It is derived state and
// never a source of truth.
type Snapshot struct {
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
	LastLatency      time.Duration `json:"last_latency"`
	Reconnects       int64         `json:"reconnects"`
	RateLimited      int64         `json:"rate_limited"`
	CacheHits        int64         `json:"cache_hits"`
	CacheMisses      int64         `json:"cache_misses"`
	StateFetches     int64         `json:"state_fetches"`
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and library callers usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Total number of requests sent to the hub",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_received_total",
			Help:      "Total number of messages received from the hub",
		}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "request_duration_seconds",
			Help:      "Round-trip time between a request and its result",
			Buckets:   []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2.5, 5, 10},
		}),
		lastLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "last_latency_seconds",
			Help:      "Most recent request round-trip time",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "reconnects_total",
			Help:      "Total number of successful reconnections",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the outbound rate limiter",
		}),
		batchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "batch_flushes_total",
			Help:      "Number of outbound batch flushes",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "batch_size",
			Help:      "Messages written per outbound flush",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "cache_hits_total",
			Help:      "State reads served from cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "cache_misses_total",
			Help:      "State reads that required a fetch",
		}),
		stateFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "fetches_total",
			Help:      "get_states requests issued to the hub",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.messagesSent,
			m.messagesReceived,
			m.requestLatency,
			m.lastLatency,
			m.reconnects,
			m.connectionState,
			m.rateLimited,
			m.batchFlushes,
			m.batchSize,
			m.cacheHits,
			m.cacheMisses,
			m.stateFetches,
		)
	}

	return m
}

func (m *Metrics) MessageSent() {
	m.messagesSent.Inc()
	m.sent.Add(1)
}

func (m *Metrics) MessageReceived() {
	m.messagesReceived.Inc()
	m.received.Add(1)
}

// ObserveLatency records one request round trip.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.requestLatency.Observe(d.Seconds())
	m.lastLatency.Set(d.Seconds())
	m.latencyNs.Store(int64(d))
}

func (m *Metrics) Reconnected() {
	m.reconnects.Inc()
	m.reconnected.Add(1)
}

// SetConnectionState records the numeric value of a connection state.
func (m *Metrics) SetConnectionState(v int) {
	m.connectionState.Set(float64(v))
}

func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
	m.limited.Add(1)
}

// BatchFlushed records one outbound flush of n messages.
func (m *Metrics) BatchFlushed(n int) {
	m.batchFlushes.Inc()
	m.batchSize.Observe(float64(n))
}

func (m *Metrics) CacheHit() {
	m.cacheHits.Inc()
	m.hits.Add(1)
}

func (m *Metrics) CacheMiss() {
	m.cacheMisses.Inc()
	m.misses.Add(1)
}

func (m *Metrics) StateFetched() {
	m.stateFetches.Inc()
	m.fetches.Add(1)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:     m.sent.Load(),
		MessagesReceived: m.received.Load(),
		LastLatency:      time.Duration(m.latencyNs.Load()),
		Reconnects:       m.reconnected.Load(),
		RateLimited:      m.limited.Load(),
		CacheHits:        m.hits.Load(),
		CacheMisses:      m.misses.Load(),
		StateFetches:     m.fetches.Load(),
	}
}

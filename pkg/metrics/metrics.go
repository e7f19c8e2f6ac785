// Package metrics exports bookledger client telemetry as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bookledger "github.com/bookledger/bookledger"
)

const defaultNamespace = "bookledger"

// Collector implements bookledger.Metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	transactions       *prometheus.CounterVec
	transactionLatency *prometheus.HistogramVec
	reconciles         *prometheus.CounterVec
	reconcileLatency   prometheus.Histogram
	books              prometheus.Gauge
	ledgerEvents       *prometheus.CounterVec
	providerEvents     *prometheus.CounterVec
	connected          prometheus.Gauge
}

var _ bookledger.Metrics = (*Collector)(nil)

// NewCollector creates a collector. An empty namespace means "bookledger".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "total",
			Help:      "Mutating actions by outcome",
		},
		[]string{"action", "outcome"},
	)
	c.transactionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "duration_seconds",
			Help:      "Time from submission to classified outcome",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"action"},
	)
	c.reconciles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "total",
			Help:      "Inventory scans by result",
		},
		[]string{"result"},
	)
	c.reconcileLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Time taken by one inventory scan",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	c.books = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "books",
			Help:      "Books found by the last successful scan",
		},
	)
	c.ledgerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "ledger_events_total",
			Help:      "Ledger events received, split by origin",
		},
		[]string{"kind", "origin"},
	)
	c.providerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "provider_events_total",
			Help:      "Wallet provider events received",
		},
		[]string{"kind"},
	)
	c.connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while a wallet session is live",
		},
	)

	c.registry.MustRegister(
		c.transactions,
		c.transactionLatency,
		c.reconciles,
		c.reconcileLatency,
		c.books,
		c.ledgerEvents,
		c.providerEvents,
		c.connected,
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveTransaction(action bookledger.Action, outcome bookledger.OutcomeKind, seconds float64) {
	c.transactions.WithLabelValues(string(action), string(outcome)).Inc()
	if outcome != bookledger.OutcomeRejected {
		c.transactionLatency.WithLabelValues(string(action)).Observe(seconds)
	}
}

func (c *Collector) ObserveReconcile(seconds float64, books int, err error) {
	c.reconcileLatency.Observe(seconds)
	if err != nil {
		c.reconciles.WithLabelValues("error").Inc()
		return
	}
	c.reconciles.WithLabelValues("success").Inc()
	c.books.Set(float64(books))
}

func (c *Collector) IncLedgerEvent(kind bookledger.EventKind, external bool) {
	origin := "own"
	if external {
		origin = "external"
	}
	c.ledgerEvents.WithLabelValues(string(kind), origin).Inc()
}

func (c *Collector) IncProviderEvent(kind bookledger.ProviderEventKind) {
	c.providerEvents.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.connected.Set(1)
		return
	}
	c.connected.Set(0)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the caching engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Responses          *prometheus.CounterVec
	NetworkErrors      *prometheus.CounterVec
	Stored             *prometheus.CounterVec
	SkippedEntries     *prometheus.CounterVec
	Evictions          *prometheus.CounterVec
	QuotaResets        prometheus.Counter
	RevalidationErrors *prometheus.CounterVec
	PendingOperations  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// Use prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "offline_cache"
	}
	factory := promauto.With(reg)

	return &Metrics{
		Responses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Responses handed out by strategies",
			},
			[]string{"strategy", "cache", "source"}, // source: cache, network, none
		),
		NetworkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "network_errors_total",
				Help:      "Failed network fetches",
			},
			[]string{"cache"},
		),
		Stored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stored_total",
				Help:      "Responses written to the cache",
			},
			[]string{"cache"},
		),
		SkippedEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_entries_total",
				Help:      "Responses not cached because of the entry size limit",
			},
			[]string{"cache", "reason"}, // reason: too_large, size_unknown
		),
		Evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Entries removed by the trimmer",
			},
			[]string{"cache", "reason"}, // reason: age, count, size
		),
		QuotaResets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_resets_total",
				Help:      "Full storage wipes after a quota error",
			},
		),
		RevalidationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revalidation_errors_total",
				Help:      "Failed background revalidations",
			},
			[]string{"cache"},
		),
		PendingOperations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_operations",
				Help:      "Background cache operations in flight",
			},
		),
	}
}

func (m *Metrics) Response(strategy, cache, source string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(strategy, cache, source).Inc()
}

func (m *Metrics) NetworkError(cache string) {
	if m == nil {
		return
	}
	m.NetworkErrors.WithLabelValues(cache).Inc()
}

func (m *Metrics) Store(cache string) {
	if m == nil {
		return
	}
	m.Stored.WithLabelValues(cache).Inc()
}

func (m *Metrics) Skip(cache, reason string) {
	if m == nil {
		return
	}
	m.SkippedEntries.WithLabelValues(cache, reason).Inc()
}

func (m *Metrics) Evict(cache, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Evictions.WithLabelValues(cache, reason).Add(float64(n))
}

func (m *Metrics) QuotaReset() {
	if m == nil {
		return
	}
	m.QuotaResets.Inc()
}

func (m *Metrics) RevalidationError(cache string) {
	if m == nil {
		return
	}
	m.RevalidationErrors.WithLabelValues(cache).Inc()
}

// Track counts a background operation until the returned function is called.
func (m *Metrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.PendingOperations.Inc()
	return m.PendingOperations.Dec
}

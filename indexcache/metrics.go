package indexcache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "indexcache"

// Metrics counts cache traffic per model. A nil *Metrics records nothing.
type Metrics struct {
	Hits        *prometheus.CounterVec
	Misses      *prometheus.CounterVec
	Queries     *prometheus.CounterVec
	Uncacheable *prometheus.CounterVec
	CacheErrors *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg when it is not
// nil. Collectors already registered by another engine are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Cache keys answered from the cache store.",
		}, []string{"model"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_misses_total",
			Help:      "Cache keys that had to be loaded from the record store.",
		}, []string{"model"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "record_store_queries_total",
			Help:      "Queries issued to the record store.",
		}, []string{"model", "op"}),
		Uncacheable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uncacheable_queries_total",
			Help:      "Queries delegated to the record store without caching.",
		}, []string{"model"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_errors_total",
			Help:      "Cache store failures treated as misses.",
		}, []string{"model", "op"}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []**prometheus.CounterVec{&m.Hits, &m.Misses, &m.Queries, &m.Uncacheable, &m.CacheErrors} {
		if err := reg.Register(*c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			*c = existing
		}
	}
	return m, nil
}

func (m *Metrics) hit(model string, n int) {
	if m != nil && n > 0 {
		m.Hits.WithLabelValues(model).Add(float64(n))
	}
}

func (m *Metrics) miss(model string, n int) {
	if m != nil && n > 0 {
		m.Misses.WithLabelValues(model).Add(float64(n))
	}
}

func (m *Metrics) query(model, op string) {
	if m != nil {
		m.Queries.WithLabelValues(model, op).Inc()
	}
}

func (m *Metrics) uncacheable(model string) {
	if m != nil {
		m.Uncacheable.WithLabelValues(model).Inc()
	}
}

func (m *Metrics) cacheError(model, op string) {
	if m != nil {
		m.CacheErrors.WithLabelValues(model, op).Inc()
	}
}

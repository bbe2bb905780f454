package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the store handle cache.
type Metrics struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	StoreOpens   prometheus.Counter
	Evictions    prometheus.Counter
	OpenFailures prometheus.Counter
}

// NewMetrics creates a Metrics instance with all registry metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_registry_cache_hits_total",
			Help: "Total number of store handle cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_registry_cache_misses_total",
			Help: "Total number of store handle cache misses",
		}),
		StoreOpens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_registry_store_opens_total",
			Help: "Total number of backend store opens",
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_registry_evictions_total",
			Help: "Total number of store handles evicted from the cache",
		}),
		OpenFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_registry_open_failures_total",
			Help: "Total number of failed backend store opens",
		}),
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) opened() {
	if m != nil {
		m.StoreOpens.Inc()
	}
}

func (m *Metrics) openFailed() {
	if m != nil {
		m.OpenFailures.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

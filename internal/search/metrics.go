package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the search manager.
type Metrics struct {
	EffectiveListBuilds prometheus.Counter
	StoresSkipped       prometheus.Counter
	ListSaves           prometheus.Counter
	NotifyFailures      prometheus.Counter
	EffectiveListSize   prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all search manager metrics
// registered.
func NewMetrics() *Metrics {
	return &Metrics{
		EffectiveListBuilds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_search_effective_list_builds_total",
			Help: "Total number of effective search list materializations",
		}),
		StoresSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_search_stores_skipped_total",
			Help: "Total number of listed stores skipped because they could not be opened",
		}),
		ListSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_search_list_saves_total",
			Help: "Total number of persisted search list writes",
		}),
		NotifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keyward_search_notify_failures_total",
			Help: "Total number of change notifications that failed to post",
		}),
		EffectiveListSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keyward_search_effective_list_size",
			Help:    "Number of live handles in materialized effective search lists",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

func (m *Metrics) listBuilt(size int) {
	if m != nil {
		m.EffectiveListBuilds.Inc()
		m.EffectiveListSize.Observe(float64(size))
	}
}

func (m *Metrics) storeSkipped() {
	if m != nil {
		m.StoresSkipped.Inc()
	}
}

func (m *Metrics) listSaved() {
	if m != nil {
		m.ListSaves.Inc()
	}
}

func (m *Metrics) notifyFailed() {
	if m != nil {
		m.NotifyFailures.Inc()
	}
}

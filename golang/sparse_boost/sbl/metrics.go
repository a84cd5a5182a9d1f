package sbl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

//Metrics counts the work of the tree growing engine. A nil *Metrics records nothing.
//The collectors are not registered, see Collectors.
type Metrics struct {
	levels       *prometheus.CounterVec
	splits       *prometheus.CounterVec
	leaves       *prometheus.CounterVec
	searchTiming *prometheus.HistogramVec
}

//NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		levels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparse_boost",
			Name:      "levels_grown_total",
			Help:      "Tree levels processed, per backend.",
		}, []string{"backend"}),
		splits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparse_boost",
			Name:      "splits_applied_total",
			Help:      "Nodes turned into internal nodes, per backend.",
		}, []string{"backend"}),
		leaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparse_boost",
			Name:      "leaves_finalized_total",
			Help:      "Nodes finalized as leaves, per backend.",
		}, []string{"backend"}),
		searchTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sparse_boost",
			Name:      "split_search_seconds",
			Help:      "Duration of the split search of one level over all bags, including synchronization.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"backend"}),
	}
}

//Collectors returns the collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{m.levels, m.splits, m.leaves, m.searchTiming}
}

func (m *Metrics) observeLevel(backend string, searchTime time.Duration) {
	if m == nil {
		return
	}
	m.levels.WithLabelValues(backend).Inc()
	m.searchTiming.WithLabelValues(backend).Observe(searchTime.Seconds())
}

func (m *Metrics) observeTree(backend string, tree *RegTree) {
	if m == nil {
		return
	}
	internal := 0
	for _, node := range tree.TreeNodes {
		if node.IsInternal() {
			internal++
		}
	}
	m.splits.WithLabelValues(backend).Add(float64(internal))
	m.leaves.WithLabelValues(backend).Add(float64(len(tree.LeafNodes)))
}

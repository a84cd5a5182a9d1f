package sbl

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherTotals(t *testing.T, registry *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	totals := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				totals[family.GetName()] += counter.GetValue()
			}
			if histogram := metric.GetHistogram(); histogram != nil {
				totals[family.GetName()] += float64(histogram.GetSampleCount())
			}
		}
	}
	return totals
}

func TestMetricsCountTreeShapes(t *testing.T) {
	metrics := NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.Collectors()...)

	params := DefaultBoosterParams()
	params.NStages = 4
	params.NBags = 2
	params.SubSample = 0.8
	params.Backend = DeviceBackend
	ensemble, err := Train(randomDataset(21, 200, 5, 0.5), params, metrics)
	require.NoError(t, err)

	internal, leaves := 0, 0
	for _, trees := range ensemble.Bags {
		for _, tree := range trees {
			leaves += len(tree.LeafNodes)
			for _, node := range tree.TreeNodes {
				if node.IsInternal() {
					internal++
				}
			}
		}
	}

	totals := gatherTotals(t, registry)
	assert.Equal(t, float64(internal), totals["sparse_boost_splits_applied_total"])
	assert.Equal(t, float64(leaves), totals["sparse_boost_leaves_finalized_total"])
	assert.Equal(t, float64(internal+params.NStages*params.NBags), float64(leaves))
	assert.GreaterOrEqual(t, totals["sparse_boost_levels_grown_total"], float64(params.NStages))
	assert.Equal(t, totals["sparse_boost_levels_grown_total"], totals["sparse_boost_split_search_seconds"])
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var metrics *Metrics
	assert.Nil(t, metrics.Collectors())
	assert.NotPanics(t, func() {
		metrics.observeLevel(HostBackend, 0)
		metrics.observeTree(HostBackend, NewRegTree(NodeStat{}))
	})
}

package sbl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findRootSplit(t *testing.T, ws *Workspace) SplitPoint {
	t.Helper()
	splitter := NewHostSplitter()
	require.NoError(t, splitter.FindBestSplits(splitter.NewStream(), ws, 0))
	bag := ws.Bag(0)
	require.Len(t, bag.Best, 1)
	return bag.Best[0]
}

//one column 3, 2, 1 and an instance without a value
func missingValueRows() SparseRows {
	return SparseRows{
		{{ID: 0, Value: 3}},
		{{ID: 0, Value: 2}},
		{{ID: 0, Value: 1}},
		{},
	}
}

func TestMissingValuesGoRight(t *testing.T) {
	// missing left at 2.5: (1|2, -1|2) 0.667; missing right at 2.5: (-4|1, 4|3) 12
	// missing left at 1.5: (-2|3, 2|1) 3; missing right at 1.5: (-7|2, 7|2) 32.667
	// present against missing: (-5|3, 5|1) 18.75
	ws := workspaceWithGD(t, 1, missingValueRows(), unitHessians(-4, -3, 2, 5), testParams())
	best := findRootSplit(t, ws)

	assert.Equal(t, 0, best.FeatureID)
	assert.InDelta(t, 1.5, best.Threshold, 1e-12)
	assert.False(t, best.DefaultToLeft)
	assert.InDelta(t, 98.0/3, best.Gain, 1e-9)
	assert.Equal(t, NodeStat{SumGrad: -7, SumHess: 2, Count: 2}, best.LeftStat)
	assert.Equal(t, NodeStat{SumGrad: 7, SumHess: 2, Count: 2}, best.RightStat)
}

func TestMissingValuesGoLeft(t *testing.T) {
	// parent (-2|4) scores 0.8
	// missing left at 2.5: (-10|2, 8|2) 164/3 - 0.8; missing right at 2.5: (-4|1, 2|3) 9 - 0.8
	// missing left at 1.5: (-7|3, 5|1) 24.75 - 0.8; missing right at 1.5: (-1|2, -1|2) 2/3 - 0.8
	ws := workspaceWithGD(t, 1, missingValueRows(), unitHessians(-4, 3, 5, -6), testParams())
	best := findRootSplit(t, ws)

	assert.Equal(t, 0, best.FeatureID)
	assert.InDelta(t, 2.5, best.Threshold, 1e-12)
	assert.True(t, best.DefaultToLeft)
	assert.InDelta(t, 164.0/3-0.8, best.Gain, 1e-9)
	assert.Equal(t, NodeStat{SumGrad: -10, SumHess: 2, Count: 2}, best.LeftStat)
	assert.Equal(t, NodeStat{SumGrad: 8, SumHess: 2, Count: 2}, best.RightStat)
}

func TestEqualFeaturesPreferLowerID(t *testing.T) {
	rows := SparseRows{
		{{ID: 0, Value: 1}, {ID: 1, Value: 1}, {ID: 2, Value: 5}},
		{{ID: 0, Value: 2}, {ID: 1, Value: 2}, {ID: 2, Value: 5}},
		{{ID: 0, Value: 3}, {ID: 1, Value: 3}, {ID: 2, Value: 5}},
		{{ID: 0, Value: 4}, {ID: 1, Value: 4}, {ID: 2, Value: 5}},
	}
	ws := workspaceWithGD(t, 3, rows, unitHessians(2, 1, -1, -2), testParams())
	best := findRootSplit(t, ws)

	assert.Equal(t, 0, best.FeatureID)
	assert.InDelta(t, 2.5, best.Threshold, 1e-12)
}

func TestEqualGainsPreferLowerID(t *testing.T) {
	rows := SparseRows{
		{{ID: 2, Value: 1}},
		{{ID: 2, Value: 2}},
		{{ID: 1, Value: 2}},
		{{ID: 1, Value: 1}},
	}
	// the best split of feature 1 isolates instance 2, the one of feature 2 isolates instance 0,
	// both with gradient -1

	ws := workspaceWithGD(t, 3, rows, unitHessians(-1, 3, -1, 3), testParams())
	params := testParams()
	require.Equal(t, 3, len(ws.Columns))

	perFeature := make([][]SplitPoint, len(ws.Columns))
	bag := ws.Bag(0)
	stats, searchable := frontierStats(bag.Tree, bag.Frontier, params)
	slots := nodeSlots(bag.Tree.NumNodes(), bag.Frontier)
	for j := range ws.Columns {
		perFeature[j] = scanColumn(j, ws.Columns[j], bag.NodeOf, slots, bag.GD, stats, searchable, params)
	}
	require.True(t, perFeature[1][0].Valid())
	require.True(t, perFeature[2][0].Valid())
	require.Equal(t, perFeature[1][0].Gain, perFeature[2][0].Gain)

	assert.Equal(t, 1, reduceFeatures(perFeature, 1)[0].FeatureID)
	assert.Equal(t, 1, findRootSplit(t, ws).FeatureID)
}

func TestEmptyNodeIsNotSearched(t *testing.T) {
	data := randomDataset(3, 40, 4, 0.5)
	booster := DefaultBoosterParams()
	booster.Tree = testParams()
	ws, err := NewWorkspace(data, booster)
	require.NoError(t, err)
	bag := ws.Bag(0)
	for i := range bag.InBag {
		bag.InBag[i] = false
	}
	ws.StartTree(0)
	require.True(t, bag.Tree.TreeNodes[0].Stat.IsEmpty())

	splitter := NewHostSplitter()
	stream := splitter.NewStream()
	require.NoError(t, splitter.FindBestSplits(stream, ws, 0))
	assert.False(t, bag.Best[0].Valid())

	require.NoError(t, splitter.ApplySplits(stream, ws, 0))
	assert.Equal(t, 1, bag.Tree.NumNodes())
	assert.True(t, bag.Tree.TreeNodes[0].IsLeaf())
	assert.Zero(t, bag.Tree.LeafWeight(0))
}

func TestConstantFeatureHasNoSplit(t *testing.T) {
	rows := SparseRows{
		{{ID: 0, Value: 1}},
		{{ID: 0, Value: 1}},
		{{ID: 0, Value: 1}},
	}
	ws := workspaceWithGD(t, 1, rows, unitHessians(1, -1, 2), testParams())
	best := findRootSplit(t, ws)
	assert.False(t, best.Valid())
	assert.True(t, math.IsInf(best.Gain, -1))
}

func TestMinChildWeightRejectsLightChildren(t *testing.T) {
	params := testParams()
	params.MinChildWeight = 1.5
	ws := workspaceWithGD(t, 1, missingValueRows(), unitHessians(-4, -3, 2, 5), params)
	best := findRootSplit(t, ws)

	require.True(t, best.Valid())
	assert.GreaterOrEqual(t, best.LeftStat.SumHess, 1.5)
	assert.GreaterOrEqual(t, best.RightStat.SumHess, 1.5)
}

func TestMidThreshold(t *testing.T) {
	assert.Equal(t, 2.5, midThreshold(3, 2))
	lower := 1.0
	upper := math.Nextafter(lower, 2)
	thr := midThreshold(upper, lower)
	assert.True(t, thr < upper && thr >= lower)
	assert.Less(t, lastThreshold(-2), -2.0)
}

func TestSplitPointRouting(t *testing.T) {
	sp := SplitPoint{FeatureID: 1, Threshold: 0.5}
	assert.True(t, sp.GoesLeft(0.6))
	assert.False(t, sp.GoesLeft(0.5))
	assert.Equal(t, "no split", NoSplit().String())
	assert.Contains(t, sp.String(), "f_1 > 0.5")
}

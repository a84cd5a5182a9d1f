package sbl

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

//randomDataset generates sparse rows with a few distinct values per feature, so columns contain
//ties and missing entries. The label depends on features 0 and 1.
func randomDataset(seed int64, n, numFeatures int, density float64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	data := &Dataset{NumFeatures: numFeatures, Rows: make(SparseRows, n), Labels: make([]float64, n)}
	for i := 0; i < n; i++ {
		var row []KeyValue
		for f := 0; f < numFeatures; f++ {
			if rng.Float64() >= density {
				continue
			}
			value := float64(rng.Intn(9)) - 4
			if value == 0 {
				value = 0.5
			}
			row = append(row, KeyValue{ID: f, Value: value})
		}
		data.Rows[i] = row

		label := rng.NormFloat64() * 0.1
		if v, ok := lookupFeature(row, 0); ok && v > 1 {
			label += 3
		}
		if v, ok := lookupFeature(row, 1); !ok || v < -2 {
			label -= 2
		}
		data.Labels[i] = label
	}
	return data
}

func testParams() TreeParams {
	params := DefaultTreeParams()
	params.LearningRate = 1.0
	params.MaxDepth = 3
	params.MinInstancesPerNode = 1
	params.ThreadsNum = 2
	return params
}

//workspaceWithGD builds a single bag workspace whose gradient pairs are given directly
//and whose tree consists of the root.
func workspaceWithGD(t *testing.T, numFeatures int, rows SparseRows, gd []GDPair, params TreeParams) *Workspace {
	t.Helper()
	data := &Dataset{Rows: rows, Labels: make([]float64, len(rows)), NumFeatures: numFeatures}
	booster := DefaultBoosterParams()
	booster.Tree = params
	ws, err := NewWorkspace(data, booster)
	require.NoError(t, err)
	copy(ws.Bags[0].GD, gd)
	ws.StartTree(0)
	return ws
}

func unitHessians(grads ...float64) []GDPair {
	gd := make([]GDPair, len(grads))
	for i, g := range grads {
		gd[i] = GDPair{Grad: g, Hess: 1}
	}
	return gd
}

//membersOf returns the instances assigned to every tree node.
func membersOf(bag *BagContext) map[int][]int {
	members := make(map[int][]int)
	for ins, node := range bag.NodeOf {
		if node >= 0 {
			members[node] = append(members[node], ins)
		}
	}
	return members
}

//requireFrontierPartition checks that in-bag instances sit only in frontier nodes or leaves,
//each exactly once, with node statistics matching a fresh aggregation.
func requireFrontierPartition(t *testing.T, bag *BagContext) {
	t.Helper()
	inBag := 0
	for _, in := range bag.InBag {
		if in {
			inBag++
		}
	}

	require.ElementsMatch(t, bag.Frontier, bag.Tree.Frontier())
	frontier := make(map[int]bool)
	for _, node := range bag.Frontier {
		frontier[node] = true
	}

	total := 0
	for node, instances := range membersOf(bag) {
		treeNode := bag.Tree.TreeNodes[node]
		require.False(t, treeNode.IsInternal(), "instances left in internal node %d", node)
		require.True(t, treeNode.IsLeaf() || frontier[node], "node %d holds instances but is neither leaf nor frontier", node)

		stat := Aggregate(instances, bag.GD)
		require.Equal(t, treeNode.Stat.Count, stat.Count, "count of node %d", node)
		require.InDelta(t, treeNode.Stat.SumGrad, stat.SumGrad, 1e-9, "gradient sum of node %d", node)
		require.InDelta(t, treeNode.Stat.SumHess, stat.SumHess, 1e-9, "hessian sum of node %d", node)
		total += len(instances)
	}
	require.Equal(t, inBag, total)

	for node := range frontier {
		if len(membersOf(bag)[node]) == 0 {
			require.Zero(t, bag.Tree.TreeNodes[node].Stat.Count)
		}
	}
}

//growLevels grows the bag's current tree level by level, calling check after every level.
func growLevels(t *testing.T, splitter Splitter, stream Stream, ws *Workspace, bagID int, check func(level int)) {
	t.Helper()
	bag := ws.Bag(bagID)
	for level := 0; len(bag.Frontier) > 0; level++ {
		require.NoError(t, splitter.FindBestSplits(stream, ws, bagID))
		require.NoError(t, stream.Synchronize())
		require.NoError(t, splitter.ApplySplits(stream, ws, bagID))
		require.NoError(t, stream.Synchronize())
		if check != nil {
			check(level)
		}
	}
}

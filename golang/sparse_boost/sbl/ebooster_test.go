package sbl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainReducesRmse(t *testing.T) {
	train := randomDataset(4, 400, 6, 0.5)
	train.SetDescription("train")
	test := randomDataset(40, 200, 6, 0.5)

	params := DefaultBoosterParams()
	params.Tree.MaxDepth = 3
	params.Tree.ThreadsNum = 2
	params.NStages = 15
	ensemble, err := Train(train, params, nil, train, test)
	require.NoError(t, err)

	assert.Equal(t, 15, ensemble.NumRounds())
	assert.Equal(t, []string{"train", "set 1"}, ensemble.LearningCurveTitles)
	require.Len(t, ensemble.LearningCurves, 15)
	first, last := ensemble.LearningCurves[0], ensemble.LearningCurves[14]
	assert.Less(t, last[0], first[0])
	assert.Less(t, last[1], first[1])
	assert.Less(t, last[0], 0.5)

	// the curve is computed from the same trees the ensemble predicts with
	assert.InDelta(t, last[0], Rmse(train.Labels, ensemble.PredictRows(train.Rows, nil)), 1e-9)
	five := 5
	assert.InDelta(t, ensemble.LearningCurves[4][1], Rmse(test.Labels, ensemble.PredictRows(test.Rows, &five)), 1e-9)
	zero := 0
	assert.Equal(t, params.BaseScore, ensemble.PredictRow(test.Rows[0], &zero))

	fileName := filepath.Join(t.TempDir(), "curves.json")
	require.NoError(t, ensemble.DumpLearningCurves(fileName))
	content, err := os.ReadFile(fileName)
	require.NoError(t, err)
	var dump LearningCurvesDump
	require.NoError(t, json.Unmarshal(content, &dump))
	assert.Equal(t, ensemble.LearningCurveTitles, dump.Titles)
	assert.Len(t, dump.Values, 15)
}

func TestTrainLogLoss(t *testing.T) {
	data := randomDataset(12, 400, 4, 0.6)
	for i, row := range data.Rows {
		data.Labels[i] = 0
		if v, ok := lookupFeature(row, 0); ok && v > 1 {
			data.Labels[i] = 1
		}
	}
	params := DefaultBoosterParams()
	params.LossKind = LogLoss{}
	params.NStages = 10
	params.Tree.MaxDepth = 2
	ensemble, err := Train(data, params, nil)
	require.NoError(t, err)

	correct := 0
	for i, logit := range ensemble.PredictRows(data.Rows, nil) {
		if (logit > 0) == (data.Labels[i] == 1) {
			correct++
		}
	}
	assert.GreaterOrEqual(t, float64(correct)/float64(data.NumInstances()), 0.95)
}

func TestTrainRejectsBadInput(t *testing.T) {
	data := &Dataset{Rows: SparseRows{{{ID: 1, Value: 1}}}, Labels: []float64{1}, NumFeatures: 1}
	_, err := Train(data, DefaultBoosterParams(), nil)
	assert.Error(t, err)

	params := DefaultBoosterParams()
	params.Tree.LearningRate = 0
	_, err = Train(randomDataset(1, 10, 2, 0.5), params, nil)
	assert.Error(t, err)

	params = DefaultBoosterParams()
	params.Backend = "gpu"
	_, err = Train(randomDataset(1, 10, 2, 0.5), params, nil)
	assert.Error(t, err)
}

func TestRenderTrees(t *testing.T) {
	params := DefaultBoosterParams()
	params.NStages = 2
	params.Tree.MaxDepth = 2
	ensemble, err := Train(randomDataset(2, 100, 3, 0.5), params, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, ensemble.RenderTrees(0, "tree", "dot", dir))
	for _, name := range []string{"tree_00000.dot", "tree_00001.dot"} {
		content, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Contains(t, string(content), "w = ")
	}

	assert.Error(t, ensemble.RenderTrees(0, "tree", "bmp", dir))
	assert.Error(t, ensemble.RenderTrees(1, "tree", "dot", dir))
}

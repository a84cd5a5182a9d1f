package sbl

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	fileName := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(fileName, []byte(content), 0o644))
	return fileName
}

func TestReadLibSVM(t *testing.T) {
	fileName := writeFile(t, "train.svm", `# label id:value ...
1.5 0:2 3:-1
-0.5

2 1:0.25 # trailing comment
`)
	data, err := ReadLibSVM(fileName)
	require.NoError(t, err)

	assert.Equal(t, 4, data.NumFeatures)
	assert.Equal(t, []float64{1.5, -0.5, 2}, data.Labels)
	assert.Equal(t, SparseRows{
		{{ID: 0, Value: 2}, {ID: 3, Value: -1}},
		{},
		{{ID: 1, Value: 0.25}},
	}, data.Rows)
}

func TestReadLibSVMErrors(t *testing.T) {
	for name, content := range map[string]string{
		"descending ids": "1 3:1 0:2\n",
		"repeated id":    "1 2:1 2:2\n",
		"no colon":       "1 abc\n",
		"bad label":      "x 0:1\n",
		"bad value":      "1 0:y\n",
		"negative id":    "1 -1:1\n",
		"nan value":      "1 0:nan\n",
		"inf value":      "1 0:inf\n",
		"-inf value":     "1 0:-Inf\n",
		"nan label":      "NaN 0:1\n",
	} {
		t.Run(name, func(t *testing.T) {
			data, err := ReadLibSVM(writeFile(t, "bad.svm", content))
			assert.Error(t, err)
			assert.Nil(t, data)
		})
	}
	_, err := ReadLibSVM(filepath.Join(t.TempDir(), "missing.svm"))
	assert.Error(t, err)
}

func TestValidateRows(t *testing.T) {
	assert.NoError(t, ValidateRows(3, SparseRows{{{ID: 0, Value: 1}, {ID: 2, Value: 1}}, nil}))
	assert.Error(t, ValidateRows(2, SparseRows{{{ID: 2, Value: 1}}}))
	assert.Error(t, ValidateRows(-1, nil))
	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Error(t, ValidateRows(2, SparseRows{{{ID: 0, Value: 1}}, {{ID: 1, Value: value}}}), "value %g", value)
	}

	data := &Dataset{Rows: SparseRows{nil, nil}, Labels: []float64{1}, NumFeatures: 1}
	assert.Error(t, data.Validate())
	data.Labels = []float64{1, math.Inf(1)}
	assert.Error(t, data.Validate())
}

func TestWorkspaceRejectsNonFiniteValues(t *testing.T) {
	data := &Dataset{
		Rows: SparseRows{
			{{ID: 0, Value: math.Inf(-1)}},
			{{ID: 0, Value: math.Inf(-1)}},
			nil,
			nil,
		},
		Labels:      []float64{-5, -5, 5, 5},
		NumFeatures: 1,
	}
	_, err := NewWorkspace(data, DefaultBoosterParams())
	assert.Error(t, err)

	data.Rows = SparseRows{
		{{ID: 0, Value: math.NaN()}},
		{{ID: 0, Value: 3}},
		{{ID: 0, Value: math.NaN()}},
		{{ID: 0, Value: 1}},
	}
	_, err = Train(data, DefaultBoosterParams(), nil)
	assert.Error(t, err)
}

func TestRowsFromDense(t *testing.T) {
	features := mat.NewDense(2, 3, []float64{
		0, 1.5, 0,
		-2, 0, 3,
	})
	assert.Equal(t, SparseRows{
		{{ID: 1, Value: 1.5}},
		{{ID: 0, Value: -2}, {ID: 2, Value: 3}},
	}, RowsFromDense(features))
}

func TestReadNpyDataset(t *testing.T) {
	dir := t.TempDir()
	featuresName := filepath.Join(dir, "features.npy")
	targetName := filepath.Join(dir, "target.npy")

	features := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 0,
		2, 5,
	})
	f, err := os.Create(featuresName)
	require.NoError(t, err)
	require.NoError(t, npyio.Write(f, features))
	require.NoError(t, f.Close())
	require.NoError(t, WriteNpy(targetName, []float64{0.5, 1, -1}))

	data, err := ReadNpyDataset(featuresName, targetName)
	require.NoError(t, err)
	assert.Equal(t, 2, data.NumFeatures)
	assert.Equal(t, []float64{0.5, 1, -1}, data.Labels)
	assert.Equal(t, SparseRows{{{ID: 0, Value: 1}}, nil, {{ID: 0, Value: 2}, {ID: 1, Value: 5}}}, data.Rows)

	_, err = ReadNpyDataset(targetName, featuresName)
	assert.Error(t, err)
	assert.Error(t, WriteNpy(filepath.Join(dir, "empty.npy"), nil))
}

package sbl

import (
	"bufio"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//Dataset is the training input: sparse rows, one label per row and the number of features.
type Dataset struct {
	Rows        SparseRows
	Labels      []float64
	NumFeatures int
	Description *string
}

//SetDescription sets a description for a Dataset object
func (data *Dataset) SetDescription(description string) {
	data.Description = &description
}

//NumInstances returns the number of rows.
func (data *Dataset) NumInstances() int {
	return len(data.Rows)
}

//Validate checks the rows, the label count and that labels are finite.
func (data *Dataset) Validate() error {
	if len(data.Labels) != len(data.Rows) {
		return fmt.Errorf("%d labels for %d rows", len(data.Labels), len(data.Rows))
	}
	for i, label := range data.Labels {
		if !isFinite(label) {
			return fmt.Errorf("row %d: label %g is not finite", i, label)
		}
	}
	return ValidateRows(data.NumFeatures, data.Rows)
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

//ValidateRows rejects rows whose feature ids are not strictly ascending or fall outside [0, numFeatures),
//and values which are NaN or infinite.
func ValidateRows(numFeatures int, rows SparseRows) error {
	if numFeatures < 0 {
		return fmt.Errorf("negative number of features %d", numFeatures)
	}
	for i, row := range rows {
		for k, kv := range row {
			if kv.ID < 0 || kv.ID >= numFeatures {
				return fmt.Errorf("row %d: feature id %d outside of [0, %d)", i, kv.ID, numFeatures)
			}
			if k > 0 && row[k-1].ID >= kv.ID {
				return fmt.Errorf("row %d: feature ids %d and %d are not ascending", i, row[k-1].ID, kv.ID)
			}
			if !isFinite(kv.Value) {
				return fmt.Errorf("row %d: feature %d has value %g", i, kv.ID, kv.Value)
			}
		}
	}
	return nil
}

//RowsFromDense converts a dense matrix into sparse rows, exact zeros are treated as missing.
func RowsFromDense(features mat.Matrix) SparseRows {
	h, w := features.Dims()
	rows := make(SparseRows, h)
	for p := 0; p < h; p++ {
		for q := 0; q < w; q++ {
			if value := features.At(p, q); value != 0 {
				rows[p] = append(rows[p], KeyValue{ID: q, Value: value})
			}
		}
	}
	return rows
}

//ReadNpy reads the content of npy file
func ReadNpy(fileName string) (*mat.Dense, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, err
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}
	return denseMat, nil
}

//WriteNpy stores a non-empty vector as a column npy file.
func WriteNpy(fileName string, values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("nothing to write into %s", fileName)
	}
	column := mat.NewDense(len(values), 1, append([]float64(nil), values...))
	dst, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := npyio.Write(dst, column); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

//ReadNpyDataset reads dense features and a target column and unites them into one Dataset.
func ReadNpyDataset(fileNameFeatures, fileNameTarget string) (*Dataset, error) {
	log.Print("\ttry to load features <", fileNameFeatures, ">")
	features, err := ReadNpy(fileNameFeatures)
	if err != nil {
		return nil, err
	}
	log.Print("\ttry to load target <", fileNameTarget, ">")
	target, err := ReadNpy(fileNameTarget)
	if err != nil {
		return nil, err
	}

	h, w := features.Dims()
	targetH, targetW := target.Dims()
	if targetH != h || targetW != 1 {
		return nil, fmt.Errorf("target has shape (%d, %d), want (%d, 1)", targetH, targetW, h)
	}

	data := &Dataset{Rows: RowsFromDense(features), Labels: mat.Col(nil, 0, target), NumFeatures: w}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

//ReadLibSVM reads "label id:value id:value ..." lines with zero based feature ids.
//The number of features is one more than the largest id seen.
func ReadLibSVM(fileName string) (*Dataset, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(f.Close()) }()

	data := &Dataset{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if hash := strings.IndexByte(line, '#'); hash >= 0 {
			line = strings.TrimSpace(line[:hash])
		}
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: label: %w", fileName, lineNumber, err)
		}
		row := make([]KeyValue, 0, len(fields)-1)
		for _, field := range fields[1:] {
			id, value, found := strings.Cut(field, ":")
			if !found {
				return nil, fmt.Errorf("%s:%d: malformed pair %q", fileName, lineNumber, field)
			}
			featureID, err := strconv.Atoi(id)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: feature id: %w", fileName, lineNumber, err)
			}
			featureValue, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: feature value: %w", fileName, lineNumber, err)
			}
			row = append(row, KeyValue{ID: featureID, Value: featureValue})
			if featureID+1 > data.NumFeatures {
				data.NumFeatures = featureID + 1
			}
		}
		data.Rows = append(data.Rows, row)
		data.Labels = append(data.Labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

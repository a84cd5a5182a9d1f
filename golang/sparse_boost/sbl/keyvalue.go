package sbl

import (
	"fmt"
	"log"
	"sort"
)

//KeyValue is a sparse entry. In a row ID is a feature index, in a column ID is an instance index.
type KeyValue struct {
	ID    int
	Value float64
}

//SparseRows is a row-major sparse dataset: one feature-ascending slice of entries per instance.
type SparseRows [][]KeyValue

//Columns is a column-major dataset: one value-descending slice of (instance, value) pairs per feature.
type Columns [][]KeyValue

//NumEntries returns the total number of stored key-value pairs.
func (columns Columns) NumEntries() (total int) {
	for _, column := range columns {
		total += len(column)
	}
	return
}

//BuildColumns transposes sparse rows into per-feature columns sorted by value in descending order.
//Rows must be validated beforehand (see ValidateRows): ids ascending and less than numFeatures.
func BuildColumns(numFeatures int, rows SparseRows) Columns {
	columns := make(Columns, numFeatures)

	// bucket counts first so every column is allocated once
	counts := make([]int, numFeatures)
	for _, row := range rows {
		for _, kv := range row {
			counts[kv.ID]++
		}
	}
	for j := range columns {
		columns[j] = make([]KeyValue, 0, counts[j])
	}

	// rows are scattered in instance order, so every column starts out ordered by instance
	for i, row := range rows {
		for _, kv := range row {
			columns[kv.ID] = append(columns[kv.ID], KeyValue{ID: i, Value: kv.Value})
		}
	}
	for _, column := range columns {
		sortDescending(column)
	}

	return columns
}

// sortDescending orders a column by value, larger first. Equal values keep
// instance order so host and device see the same sequence.
func sortDescending(column []KeyValue) {
	sort.SliceStable(column, func(a, b int) bool {
		return column[a].Value > column[b].Value
	})
}

//FlattenColumns lays the columns out back to back, the form uploaded to a device.
func FlattenColumns(columns Columns) (insIDs []int, values []float64, counts []int) {
	total := columns.NumEntries()
	insIDs = make([]int, 0, total)
	values = make([]float64, 0, total)
	counts = make([]int, len(columns))
	for j, column := range columns {
		counts[j] = len(column)
		for _, kv := range column {
			insIDs = append(insIDs, kv.ID)
			values = append(values, kv.Value)
		}
	}
	return
}

//MaxIDMismatches is the number of tolerated instance id mismatches in CheckFlattened.
const MaxIDMismatches = 100

//ConsistencyError reports a disagreement between columns and their flattened copy.
type ConsistencyError struct {
	Feature  int
	Position int
	Reason   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("flattened columns diverge at feature %d, position %d: %s", e.Feature, e.Position, e.Reason)
}

//CheckFlattened compares flattened arrays with the columns they were built from.
//A count or value mismatch fails at once. Instance id mismatches are logged one by one
//and the check fails when MaxIDMismatches of them accumulate within a feature.
func CheckFlattened(columns Columns, insIDs []int, values []float64, counts []int) error {
	if insIDs == nil || values == nil || counts == nil {
		log.Panicf("flattened buffers are not set")
	}
	if len(counts) != len(columns) {
		return &ConsistencyError{Feature: -1, Position: -1, Reason: fmt.Sprintf("%d counts for %d features", len(counts), len(columns))}
	}

	cur := 0
	for j, column := range columns {
		if counts[j] != len(column) {
			return &ConsistencyError{Feature: j, Position: cur, Reason: fmt.Sprintf("count %d, want %d", counts[j], len(column))}
		}
		if cur+len(column) > len(insIDs) || cur+len(column) > len(values) {
			return &ConsistencyError{Feature: j, Position: cur, Reason: "flattened arrays are too short"}
		}

		invalid := 0
		for _, kv := range column {
			if insIDs[cur] != kv.ID {
				log.Printf("ins id diff: %d v.s. %d at the %d-th fv", insIDs[cur], kv.ID, cur)
				invalid++
				if invalid == MaxIDMismatches {
					return &ConsistencyError{Feature: j, Position: cur, Reason: "too many instance id mismatches"}
				}
			}
			if values[cur] != kv.Value {
				return &ConsistencyError{Feature: j, Position: cur, Reason: fmt.Sprintf("value %g, want %g", values[cur], kv.Value)}
			}
			cur++
		}
	}
	return nil
}

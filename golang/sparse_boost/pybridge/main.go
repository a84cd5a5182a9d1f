// SPDX-License-Identifier: Apache-2.0

package main

/*
#cgo CFLAGS: -I.
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"unsafe"

	"github.com/tarstars/sparse_bridged_boosting/golang/sparse_boost/sbl"
)

var (
	handleMu   sync.Mutex
	nextHandle uint64 = 1
	ensembles         = make(map[uint64]*sbl.Ensemble)

	monitorMu       sync.Mutex
	pendingMonitors []*sbl.Dataset

	lastErrorMu sync.Mutex
	lastError   string

	logSilenceOnce sync.Once
)

func setLastError(err error) {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	if err != nil {
		lastError = err.Error()
	} else {
		lastError = ""
	}
}

func getLastError() string {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	return lastError
}

// the engine panics on violated preconditions, they must not cross the C boundary
func recoverError(code *C.int, failed C.int) {
	if r := recover(); r != nil {
		setLastError(fmt.Errorf("panic: %v", r))
		*code = failed
	}
}

func storeEnsemble(ensemble *sbl.Ensemble) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle := nextHandle
	ensembles[handle] = ensemble
	nextHandle++
	return handle
}

func fetchEnsemble(handle uint64) (*sbl.Ensemble, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	ensemble, ok := ensembles[handle]
	if !ok {
		return nil, errors.New("invalid model handle")
	}
	return ensemble, nil
}

//export FreeModel
func FreeModel(handle C.ulonglong) {
	handleMu.Lock()
	defer handleMu.Unlock()
	delete(ensembles, uint64(handle))
}

func copyFloatSlice(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length)
	dst := make([]float64, length)
	copy(dst, src)
	return dst, nil
}

func sliceFromPtr(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length), nil
}

//buildRows copies a CSR matrix (scipy.sparse.csr_matrix layout) into sparse rows.
func buildRows(indptrPtr *C.longlong, indicesPtr *C.int, valuesPtr *C.double, rows C.int) (sbl.SparseRows, error) {
	h := int(rows)
	if h <= 0 {
		return nil, errors.New("rows must be positive")
	}
	if indptrPtr == nil {
		return nil, errors.New("null indptr")
	}
	indptr := unsafe.Slice((*int64)(unsafe.Pointer(indptrPtr)), h+1)
	nnz := int(indptr[h])
	if indptr[0] != 0 || nnz < 0 {
		return nil, fmt.Errorf("malformed indptr [%d ... %d]", indptr[0], nnz)
	}
	values, err := copyFloatSlice(valuesPtr, nnz)
	if err != nil {
		return nil, err
	}
	var indices []int32
	if nnz > 0 {
		if indicesPtr == nil {
			return nil, errors.New("null indices for non-empty matrix")
		}
		indices = unsafe.Slice((*int32)(unsafe.Pointer(indicesPtr)), nnz)
	}

	result := make(sbl.SparseRows, h)
	for p := 0; p < h; p++ {
		lo, hi := int(indptr[p]), int(indptr[p+1])
		if lo > hi || hi > nnz {
			return nil, fmt.Errorf("row %d has bounds [%d, %d) outside of %d values", p, lo, hi, nnz)
		}
		row := make([]sbl.KeyValue, 0, hi-lo)
		for k := lo; k < hi; k++ {
			row = append(row, sbl.KeyValue{ID: int(indices[k]), Value: values[k]})
		}
		result[p] = row
	}
	return result, nil
}

func buildDataset(indptrPtr *C.longlong, indicesPtr *C.int, valuesPtr *C.double, rows, numFeatures C.int, targetPtr *C.double) (*sbl.Dataset, error) {
	sparseRows, err := buildRows(indptrPtr, indicesPtr, valuesPtr, rows)
	if err != nil {
		return nil, err
	}
	target, err := copyFloatSlice(targetPtr, int(rows))
	if err != nil {
		return nil, err
	}
	data := &sbl.Dataset{Rows: sparseRows, Labels: target, NumFeatures: int(numFeatures)}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

func buildLoss(kind C.int) (sbl.Loss, error) {
	switch kind {
	case 0:
		return sbl.MseLoss{}, nil
	case 1:
		return sbl.LogLoss{}, nil
	case 2:
		return sbl.PoissonLoss{}, nil
	default:
		return nil, errors.New("unsupported loss kind")
	}
}

func buildBackend(kind C.int) (string, error) {
	switch kind {
	case 0:
		return sbl.HostBackend, nil
	case 1:
		return sbl.DeviceBackend, nil
	default:
		return "", errors.New("unsupported backend")
	}
}

//export RegisterLearningCurveDataset
func RegisterLearningCurveDataset(
	indptrPtr *C.longlong,
	indicesPtr *C.int,
	valuesPtr *C.double,
	rows C.int,
	numFeatures C.int,
	targetPtr *C.double,
	desc *C.char,
) (code C.int) {
	setLastError(nil)
	defer recoverError(&code, 9)

	data, err := buildDataset(indptrPtr, indicesPtr, valuesPtr, rows, numFeatures, targetPtr)
	if err != nil {
		setLastError(err)
		return 1
	}
	if desc != nil {
		data.SetDescription(C.GoString(desc))
	}

	monitorMu.Lock()
	defer monitorMu.Unlock()
	pendingMonitors = append(pendingMonitors, data)
	return 0
}

//export TrainModel
func TrainModel(
	indptrPtr *C.longlong,
	indicesPtr *C.int,
	valuesPtr *C.double,
	rows C.int,
	numFeatures C.int,
	targetPtr *C.double,
	nStages C.int,
	nBags C.int,
	subSample C.double,
	seed C.longlong,
	regLambda C.double,
	maxDepth C.int,
	learningRate C.double,
	lossKind C.int,
	threadsNum C.int,
	backendKind C.int,
) (handle C.ulonglong) {
	setLastError(nil)
	logSilenceOnce.Do(func() {
		log.SetOutput(io.Discard)
	})
	var code C.int
	defer func() {
		if code != 0 {
			handle = 0
		}
	}()
	defer recoverError(&code, 1)

	data, err := buildDataset(indptrPtr, indicesPtr, valuesPtr, rows, numFeatures, targetPtr)
	if err != nil {
		setLastError(err)
		return 0
	}
	loss, err := buildLoss(lossKind)
	if err != nil {
		setLastError(err)
		return 0
	}
	backend, err := buildBackend(backendKind)
	if err != nil {
		setLastError(err)
		return 0
	}

	params := sbl.DefaultBoosterParams()
	params.NStages = int(nStages)
	params.NBags = int(nBags)
	params.SubSample = float64(subSample)
	params.Seed = int64(seed)
	params.LossKind = loss
	params.Backend = backend
	params.Tree.RegLambda = float64(regLambda)
	params.Tree.MaxDepth = int(maxDepth)
	params.Tree.LearningRate = float64(learningRate)
	params.Tree.ThreadsNum = max(1, int(threadsNum))

	monitorMu.Lock()
	monitors := pendingMonitors
	pendingMonitors = nil
	monitorMu.Unlock()

	ensemble, err := sbl.Train(data, params, nil, monitors...)
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeEnsemble(ensemble))
}

//export Predict
func Predict(
	handle C.ulonglong,
	indptrPtr *C.longlong,
	indicesPtr *C.int,
	valuesPtr *C.double,
	rows C.int,
	outputPtr *C.double,
	treeLimit C.int,
) (code C.int) {
	setLastError(nil)
	defer recoverError(&code, 9)

	ensemble, err := fetchEnsemble(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}

	sparseRows, err := buildRows(indptrPtr, indicesPtr, valuesPtr, rows)
	if err != nil {
		setLastError(err)
		return 2
	}

	var limit *int
	if treeLimit > 0 {
		l := int(treeLimit)
		limit = &l
	}

	outSlice, err := sliceFromPtr(outputPtr, int(rows))
	if err != nil {
		setLastError(err)
		return 3
	}
	copy(outSlice, ensemble.PredictRows(sparseRows, limit))
	return 0
}

//export RenderTrees
func RenderTrees(handle C.ulonglong, bagID C.int, prefix, figureType, directory *C.char) (code C.int) {
	setLastError(nil)
	defer recoverError(&code, 9)

	ensemble, err := fetchEnsemble(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	goPrefix := C.GoString(prefix)
	goFigureType := C.GoString(figureType)
	goDir := C.GoString(directory)
	if goPrefix == "" {
		goPrefix = "tree"
	}
	if goFigureType == "" {
		goFigureType = "svg"
	}
	if goDir == "" {
		goDir = "."
	}
	if err := ensemble.RenderTrees(int(bagID), goPrefix, goFigureType, goDir); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export DumpLearningCurves
func DumpLearningCurves(handle C.ulonglong, path *C.char) (code C.int) {
	setLastError(nil)
	defer recoverError(&code, 9)

	ensemble, err := fetchEnsemble(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := ensemble.DumpLearningCurves(C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export GetLastError
func GetLastError() *C.char {
	errStr := getLastError()
	if errStr == "" {
		return nil
	}
	return C.CString(errStr)
}

//export FreeCString
func FreeCString(str *C.char) {
	if str != nil {
		C.free(unsafe.Pointer(str))
	}
}

func main() {}

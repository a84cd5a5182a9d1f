package sbl

import (
	"fmt"
	"runtime"
)

//TreeParams collect the per-round configuration of the tree growing engine.
type TreeParams struct {
	RegLambda           float64
	MinSplitGain        float64 // a split is applied only when its gain is strictly above
	MinChildWeight      float64 // minimal hessian sum of each child
	MinInstancesPerNode int     // nodes with fewer instances become leaves
	MaxDepth            int     // the root has depth 0
	LearningRate        float64
	ThreadsNum          int
	Diagnostics         bool // run consistency checks of device buffers
}

//DefaultTreeParams returns the parameters used when nothing else is configured.
func DefaultTreeParams() TreeParams {
	return TreeParams{
		RegLambda:           1.0,
		MinSplitGain:        0.0,
		MinChildWeight:      0.0,
		MinInstancesPerNode: 2,
		MaxDepth:            6,
		LearningRate:        0.3,
		ThreadsNum:          runtime.NumCPU(),
	}
}

func (params TreeParams) threads() int {
	if params.ThreadsNum < 1 {
		return 1
	}
	return params.ThreadsNum
}

//canSplit decides whether a node with the given statistics and depth is searched for a split.
func (params TreeParams) canSplit(stat NodeStat, depth int) bool {
	return depth < params.MaxDepth && !stat.IsEmpty() && stat.Count >= params.MinInstancesPerNode
}

//Validate checks the parameters which would make growing meaningless.
func (params TreeParams) Validate() error {
	if params.MaxDepth < 0 {
		return fmt.Errorf("max depth %d is negative", params.MaxDepth)
	}
	if params.RegLambda < 0 {
		return fmt.Errorf("regularization %g is negative", params.RegLambda)
	}
	if params.LearningRate <= 0 {
		return fmt.Errorf("learning rate %g is not positive", params.LearningRate)
	}
	return nil
}

//BoosterParams collect arguments required to train an ensemble.
type BoosterParams struct {
	Tree      TreeParams
	NStages   int
	NBags     int
	SubSample float64 // fraction of instances drawn into each bag, 1 takes all
	Seed      int64
	BaseScore float64
	LossKind  Loss
	Backend   string // "host" or "device"
}

//DefaultBoosterParams returns a single bag, host backend, squared error configuration.
func DefaultBoosterParams() BoosterParams {
	return BoosterParams{
		Tree:      DefaultTreeParams(),
		NStages:   20,
		NBags:     1,
		SubSample: 1.0,
		LossKind:  MseLoss{},
		Backend:   HostBackend,
	}
}

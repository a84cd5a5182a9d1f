package sbl

import (
	"fmt"
	"log"
	"math/rand"
)

//Backend names.
const (
	HostBackend   = "host"
	DeviceBackend = "device"
)

//Stream is an execution stream of a backend. Work enqueued on a stream becomes visible
//to the caller only after Synchronize returns.
type Stream interface {
	Synchronize() error
	Close() error
}

//Splitter is the contract shared by the host and the device implementations.
//Every call names the stream it runs on and the bag it applies to.
type Splitter interface {
	//SplitterType identifies the backend.
	SplitterType() string
	//NewStream creates a stream the backend accepts.
	NewStream() Stream
	//ComputeGD materializes gradients and hessians of the bag from its predictions.
	ComputeGD(stream Stream, ws *Workspace, bagID int) error
	//FindBestSplits fills the bag's Best with one candidate per frontier node.
	FindBestSplits(stream Stream, ws *Workspace, bagID int) error
	//ApplySplits grows the bag's tree by one level using Best and moves instances to the children.
	ApplySplits(stream Stream, ws *Workspace, bagID int) error
}

//NewSplitter selects the implementation by its name.
func NewSplitter(backend string, ws *Workspace) (Splitter, error) {
	switch backend {
	case "", HostBackend:
		return NewHostSplitter(), nil
	case DeviceBackend:
		return NewDeviceSplitter(ws)
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

//Workspace holds the data of a training session: the read-only dataset and columns
//shared by every bag, and the per-bag contexts.
type Workspace struct {
	Data    *Dataset
	Columns Columns
	Bags    []*BagContext
	Params  TreeParams
	Loss    Loss
}

//NewWorkspace validates the dataset, builds the sorted columns once and draws the bags.
func NewWorkspace(data *Dataset, params BoosterParams) (*Workspace, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if err := params.Tree.Validate(); err != nil {
		return nil, err
	}
	nBags := params.NBags
	if nBags < 1 {
		nBags = 1
	}
	loss := params.LossKind
	if loss == nil {
		loss = MseLoss{}
	}

	columns := BuildColumns(data.NumFeatures, data.Rows)
	log.Printf("built %d columns with %d values for %d instances", len(columns), columns.NumEntries(), data.NumInstances())

	ws := &Workspace{Data: data, Columns: columns, Params: params.Tree, Loss: loss}
	n := data.NumInstances()
	for bagID := 0; bagID < nBags; bagID++ {
		bag := &BagContext{
			BagID:       bagID,
			InBag:       make([]bool, n),
			Predictions: make([]float64, n),
			GD:          make([]GDPair, n),
			NodeOf:      make([]int, n),
		}
		rng := rand.New(rand.NewSource(params.Seed + int64(bagID)))
		for i := 0; i < n; i++ {
			bag.InBag[i] = params.SubSample <= 0 || params.SubSample >= 1 || rng.Float64() < params.SubSample
			bag.Predictions[i] = params.BaseScore
		}
		ws.Bags = append(ws.Bags, bag)
	}
	return ws, nil
}

//Bag returns the context of one bag. An unknown bag id is a caller error.
func (ws *Workspace) Bag(bagID int) *BagContext {
	if bagID < 0 || bagID >= len(ws.Bags) {
		log.Panicf("bag %d is out of range [0, %d)", bagID, len(ws.Bags))
	}
	return ws.Bags[bagID]
}

//StartTree seeds the bag's tree with a root owning every in-bag instance.
func (ws *Workspace) StartTree(bagID int) {
	bag := ws.Bag(bagID)
	members := make([]int, 0, len(bag.InBag))
	for i, in := range bag.InBag {
		if in {
			members = append(members, i)
			bag.NodeOf[i] = 0
		} else {
			bag.NodeOf[i] = -1
		}
	}
	bag.Tree = NewRegTree(Aggregate(members, bag.GD))
	bag.Frontier = []int{0}
	bag.Best = nil
}

//FinishTree adds the output of the finished tree to the bag's predictions.
func (ws *Workspace) FinishTree(bagID int) *RegTree {
	bag := ws.Bag(bagID)
	for _, nodeID := range bag.Frontier {
		bag.Tree.finalizeLeaf(nodeID, ws.Params)
	}
	bag.Frontier = nil
	for i, row := range ws.Data.Rows {
		bag.Predictions[i] += bag.Tree.PredictRow(row)
	}
	return bag.Tree
}

//computeGD fills gd from labels and predictions, zero outside of the bag.
func computeGD(loss Loss, labels, predictions []float64, inBag []bool, gd []GDPair) {
	for i := range gd {
		if !inBag[i] {
			gd[i] = GDPair{}
			continue
		}
		gd[i] = GDPair{
			Grad: loss.lossDer1(labels[i], predictions[i]),
			Hess: loss.lossDer2(labels[i], predictions[i]),
		}
	}
}

//HostStream is the stream of the host backend. Host work is done by the time a call returns.
type HostStream struct{}

//Synchronize has nothing to wait for.
func (HostStream) Synchronize() error { return nil }

//Close has nothing to release.
func (HostStream) Close() error { return nil }

//HostSplitter searches and applies splits on the CPU, one pool task per feature column.
type HostSplitter struct{}

//NewHostSplitter creates the host backend.
func NewHostSplitter() *HostSplitter {
	return &HostSplitter{}
}

//SplitterType identifies the backend.
func (*HostSplitter) SplitterType() string { return HostBackend }

//NewStream returns a host stream.
func (*HostSplitter) NewStream() Stream { return HostStream{} }

func checkHostStream(stream Stream) {
	if _, ok := stream.(HostStream); !ok {
		log.Panicf("host splitter got a stream of type %T", stream)
	}
}

//ComputeGD derives the bag's gradient pairs from its predictions.
func (*HostSplitter) ComputeGD(stream Stream, ws *Workspace, bagID int) error {
	checkHostStream(stream)
	bag := ws.Bag(bagID)
	computeGD(ws.Loss, ws.Data.Labels, bag.Predictions, bag.InBag, bag.GD)
	return nil
}

//FindBestSplits scans every column for every frontier node of the bag.
func (*HostSplitter) FindBestSplits(stream Stream, ws *Workspace, bagID int) error {
	checkHostStream(stream)
	bag := ws.Bag(bagID)
	stats, searchable := frontierStats(bag.Tree, bag.Frontier, ws.Params)
	slots := nodeSlots(bag.Tree.NumNodes(), bag.Frontier)

	scan := func(feature int) []SplitPoint {
		return scanColumn(feature, ws.Columns[feature], bag.NodeOf, slots, bag.GD, stats, searchable, ws.Params)
	}

	w := len(ws.Columns)
	result := make([][]SplitPoint, w)
	if ws.Params.threads() == 1 {
		for q := 0; q < w; q++ {
			result[q] = scan(q)
		}
	} else {
		taskPool := NewPool(ws.Params.threads())
		for q := 0; q < w; q++ {
			taskPool.AddTask(&TaskFindBestSplit{result: result, feature: q, scan: scan})
		}
		taskPool.Close()
		taskPool.WaitAll()
	}

	bag.Best = reduceFeatures(result, len(bag.Frontier))
	return nil
}

//ApplySplits grows the tree by one level and moves instances to the new nodes.
func (*HostSplitter) ApplySplits(stream Stream, ws *Workspace, bagID int) error {
	checkHostStream(stream)
	bag := ws.Bag(bagID)
	decisions, newFrontier := applySplits(bag.Tree, bag.Frontier, bag.Best, ws.Params)
	partitionByColumns(bag.NodeOf, ws.Columns, decisions, bag.Tree.NumNodes())
	bag.Frontier = newFrontier
	bag.Best = nil
	return nil
}

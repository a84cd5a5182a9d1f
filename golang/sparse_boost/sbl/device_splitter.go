package sbl

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

//floatBuffer is a float64 allocation in device memory together with its typed view.
type floatBuffer struct {
	t    *tensor.Dense
	data []float64
}

//intBuffer is an int allocation in device memory together with its typed view.
type intBuffer struct {
	t    *tensor.Dense
	data []int
}

// device allocations never have zero length, the view keeps the logical size
func allocFloats(n int) floatBuffer {
	backing := make([]float64, max(n, 1))
	return floatBuffer{t: tensor.New(tensor.WithShape(len(backing)), tensor.WithBacking(backing)), data: backing[:n]}
}

func allocInts(n int) intBuffer {
	backing := make([]int, max(n, 1))
	return intBuffer{t: tensor.New(tensor.WithShape(len(backing)), tensor.WithBacking(backing)), data: backing[:n]}
}

func uploadFloats(host []float64) floatBuffer {
	buf := allocFloats(len(host))
	copy(buf.data, host)
	return buf
}

func uploadInts(host []int) intBuffer {
	buf := allocInts(len(host))
	copy(buf.data, host)
	return buf
}

//deviceBag holds the device buffers of one bag.
type deviceBag struct {
	predictions floatBuffer
	inBag       intBuffer
	grad, hess  floatBuffer
	nodeOf      intBuffer
	tree        *RegTree // the tree nodeOf was uploaded for
}

//DeviceSplitter runs the split search and the partitioning as kernels on a device stream.
//The columns live in device memory in flattened form, one offset per feature.
type DeviceSplitter struct {
	insIDs intBuffer
	values floatBuffer
	starts []int
	labels floatBuffer
	n      int

	threads int

	mu   sync.Mutex
	bags map[int]*deviceBag
}

//NewDeviceSplitter uploads the workspace's columns and labels. With diagnostics enabled the
//uploaded buffers are compared against the host columns and a divergence aborts.
func NewDeviceSplitter(ws *Workspace) (*DeviceSplitter, error) {
	if ws == nil || ws.Data == nil {
		return nil, fmt.Errorf("device splitter needs a workspace with data")
	}
	insIDs, values, counts := FlattenColumns(ws.Columns)
	starts := make([]int, len(counts)+1)
	for j, count := range counts {
		starts[j+1] = starts[j] + count
	}

	device := &DeviceSplitter{
		insIDs:  uploadInts(insIDs),
		values:  uploadFloats(values),
		starts:  starts,
		labels:  uploadFloats(ws.Data.Labels),
		n:       ws.Data.NumInstances(),
		threads: ws.Params.threads(),
		bags:    make(map[int]*deviceBag),
	}

	if ws.Params.Diagnostics {
		if device.insIDs.t.Dtype() != tensor.Int || device.values.t.Dtype() != tensor.Float64 {
			log.Panicf("unexpected device buffer types %v and %v", device.insIDs.t.Dtype(), device.values.t.Dtype())
		}
		deviceCounts := make([]int, len(counts))
		for j := range deviceCounts {
			deviceCounts[j] = starts[j+1] - starts[j]
		}
		if err := CheckFlattened(ws.Columns, device.insIDs.data, device.values.data, deviceCounts); err != nil {
			log.Panicf("device columns are corrupted: %v", err)
		}
	}
	return device, nil
}

//SplitterType identifies the backend.
func (*DeviceSplitter) SplitterType() string { return DeviceBackend }

//NewStream creates a device stream.
func (*DeviceSplitter) NewStream() Stream { return NewDeviceStream() }

func deviceStream(stream Stream) *DeviceStream {
	ds, ok := stream.(*DeviceStream)
	if !ok || ds == nil {
		log.Panicf("device splitter got a stream of type %T", stream)
	}
	return ds
}

func (device *DeviceSplitter) bag(bagID int) *deviceBag {
	device.mu.Lock()
	defer device.mu.Unlock()
	dbag, ok := device.bags[bagID]
	if !ok {
		dbag = &deviceBag{
			predictions: allocFloats(device.n),
			inBag:       allocInts(device.n),
			grad:        allocFloats(device.n),
			hess:        allocFloats(device.n),
			nodeOf:      allocInts(device.n),
		}
		device.bags[bagID] = dbag
	}
	return dbag
}

//featureRange returns the flattened bounds of a column.
func (device *DeviceSplitter) featureRange(feature int) (int, int) {
	return device.starts[feature], device.starts[feature+1]
}

func (device *DeviceSplitter) numFeatures() int {
	return len(device.starts) - 1
}

//ComputeGD uploads the bag's predictions, evaluates the loss derivatives on the device and
//downloads them into the bag once the kernel has run.
func (device *DeviceSplitter) ComputeGD(stream Stream, ws *Workspace, bagID int) error {
	ds := deviceStream(stream)
	bag := ws.Bag(bagID)
	dbag := device.bag(bagID)
	loss := ws.Loss

	predictions := append([]float64(nil), bag.Predictions...)
	inBag := make([]int, len(bag.InBag))
	for i, in := range bag.InBag {
		if in {
			inBag[i] = 1
		}
	}

	return ds.Enqueue(func() error {
		copy(dbag.predictions.data, predictions)
		copy(dbag.inBag.data, inBag)

		var g errgroup.Group
		g.SetLimit(device.threads)
		block := blockSize(device.n, device.threads)
		for lo := 0; lo < device.n; lo += block {
			lo, hi := lo, min(lo+block, device.n)
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					if dbag.inBag.data[i] == 0 {
						dbag.grad.data[i], dbag.hess.data[i] = 0, 0
						continue
					}
					label, prediction := device.labels.data[i], dbag.predictions.data[i]
					dbag.grad.data[i] = loss.lossDer1(label, prediction)
					dbag.hess.data[i] = loss.lossDer2(label, prediction)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i := range bag.GD {
			bag.GD[i] = GDPair{Grad: dbag.grad.data[i], Hess: dbag.hess.data[i]}
		}
		return nil
	})
}

func blockSize(n, threads int) int {
	if threads < 1 {
		threads = 1
	}
	return max((n+threads-1)/threads, 1)
}

//FindBestSplits launches one block per feature. Each block groups the column's entries by frontier
//node, keeping the descending order, and evaluates the boundaries of every segment.
//bag.Best holds the result after the stream is synchronized.
func (device *DeviceSplitter) FindBestSplits(stream Stream, ws *Workspace, bagID int) error {
	ds := deviceStream(stream)
	bag := ws.Bag(bagID)
	dbag := device.bag(bagID)
	params := ws.Params

	stats, searchable := frontierStats(bag.Tree, bag.Frontier, params)
	slots := nodeSlots(bag.Tree.NumNodes(), bag.Frontier)
	numSlots := len(bag.Frontier)

	var nodeOf []int
	if dbag.tree != bag.Tree {
		nodeOf = append([]int(nil), bag.NodeOf...)
		dbag.tree = bag.Tree
	}

	return ds.Enqueue(func() error {
		if nodeOf != nil {
			copy(dbag.nodeOf.data, nodeOf)
		}

		w := device.numFeatures()
		result := make([][]SplitPoint, w)
		var g errgroup.Group
		g.SetLimit(device.threads)
		for q := 0; q < w; q++ {
			g.Go(func() error {
				result[q] = device.scanSegments(q, dbag, slots, stats, searchable, params)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		bag.Best = reduceFeatures(result, numSlots)
		return nil
	})
}

//scanSegments is the per-feature block of the split search.
func (device *DeviceSplitter) scanSegments(feature int, dbag *deviceBag, slots []int, stats []NodeStat, searchable []bool, params TreeParams) []SplitPoint {
	numSlots := len(stats)
	out := make([]SplitPoint, numSlots)
	for slot := range out {
		out[slot] = NoSplit()
	}

	start, end := device.featureRange(feature)
	ids := device.insIDs.data[start:end]
	values := device.values.data[start:end]

	slotOf := make([]int, len(ids))
	segCount := make([]int, numSlots+1)
	for k, ins := range ids {
		slotOf[k] = -1
		node := dbag.nodeOf.data[ins]
		if node < 0 || node >= len(slots) {
			continue
		}
		if slot := slots[node]; slot >= 0 && searchable[slot] {
			slotOf[k] = slot
			segCount[slot+1]++
		}
	}
	for slot := 0; slot < numSlots; slot++ {
		segCount[slot+1] += segCount[slot]
	}
	segStart := append([]int(nil), segCount...)

	total := segCount[numSlots]
	segValues := make([]float64, total)
	segGD := make([]GDPair, total)
	fill := append([]int(nil), segStart[:numSlots]...)
	for k, ins := range ids {
		slot := slotOf[k]
		if slot < 0 {
			continue
		}
		segValues[fill[slot]] = values[k]
		segGD[fill[slot]] = GDPair{Grad: dbag.grad.data[ins], Hess: dbag.hess.data[ins]}
		fill[slot]++
	}

	inclusive := make([]NodeStat, total)
	for slot := 0; slot < numSlots; slot++ {
		lo, hi := segStart[slot], segStart[slot+1]
		var running NodeStat
		for k := lo; k < hi; k++ {
			running.AddPair(segGD[k])
			inclusive[k] = running
		}
	}

	for slot := 0; slot < numSlots; slot++ {
		lo, hi := segStart[slot], segStart[slot+1]
		if lo == hi {
			continue
		}
		observed := inclusive[hi-1]
		for k := lo + 1; k < hi; k++ {
			if segValues[k] == segValues[k-1] {
				continue
			}
			considerBoundary(boundary{
				feature:   feature,
				threshold: midThreshold(segValues[k-1], segValues[k]),
				parent:    stats[slot],
				observed:  observed,
				prefix:    inclusive[k-1],
			}, params, &out[slot])
		}
		considerBoundary(boundary{
			feature:   feature,
			threshold: lastThreshold(segValues[hi-1]),
			parent:    stats[slot],
			observed:  observed,
			prefix:    observed,
			last:      true,
		}, params, &out[slot])
	}
	return out
}

//ApplySplits grows the tree on the host from the synchronized Best and launches the partition kernel.
//bag.NodeOf reflects the new level after the stream is synchronized.
func (device *DeviceSplitter) ApplySplits(stream Stream, ws *Workspace, bagID int) error {
	ds := deviceStream(stream)
	bag := ws.Bag(bagID)
	dbag := device.bag(bagID)

	decisions, newFrontier := applySplits(bag.Tree, bag.Frontier, bag.Best, ws.Params)
	bag.Frontier = newFrontier
	bag.Best = nil
	numNodes := bag.Tree.NumNodes()

	return ds.Enqueue(func() error {
		if len(decisions) > 0 {
			if err := device.partition(dbag, decisions, numNodes); err != nil {
				return err
			}
		}
		copy(bag.NodeOf, dbag.nodeOf.data)
		return nil
	})
}

//partition moves instances of split nodes to their children. Every instance belongs to one
//decision and every decision reads one column, so blocks write disjoint entries.
func (device *DeviceSplitter) partition(dbag *deviceBag, decisions []Decision, numNodes int) error {
	index := decisionIndex(numNodes, decisions)
	nodeOf := dbag.nodeOf.data

	parentOf := make([]int, len(nodeOf))
	for ins, node := range nodeOf {
		parentOf[ins] = -1
		if node < 0 || index[node] < 0 {
			continue
		}
		parentOf[ins] = node
		nodeOf[ins] = decisions[index[node]].defaultChild()
	}

	features := make([]int, 0, len(decisions))
	seen := make(map[int]bool)
	for _, decision := range decisions {
		if !seen[decision.Split.FeatureID] {
			seen[decision.Split.FeatureID] = true
			features = append(features, decision.Split.FeatureID)
		}
	}

	var g errgroup.Group
	g.SetLimit(device.threads)
	for _, feature := range features {
		g.Go(func() error {
			if feature < 0 || feature >= device.numFeatures() {
				return fmt.Errorf("split on feature %d outside of [0, %d)", feature, device.numFeatures())
			}
			start, end := device.featureRange(feature)
			for k := start; k < end; k++ {
				ins := device.insIDs.data[k]
				parent := parentOf[ins]
				if parent < 0 {
					continue
				}
				decision := decisions[index[parent]]
				if decision.Split.FeatureID != feature {
					continue
				}
				nodeOf[ins] = decision.childFor(device.values.data[k])
			}
			return nil
		})
	}
	return g.Wait()
}

//Release frees the device buffers of a bag.
func (device *DeviceSplitter) Release(bagID int) {
	device.mu.Lock()
	defer device.mu.Unlock()
	delete(device.bags, bagID)
}

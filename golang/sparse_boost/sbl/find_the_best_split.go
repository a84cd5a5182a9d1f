package sbl

import (
	"fmt"
	"math"
)

//SplitPoint is the best split candidate of one node.
//Instances with a value greater than Threshold go left, smaller or equal go right,
//instances without a value for FeatureID follow DefaultToLeft.
type SplitPoint struct {
	FeatureID     int
	Threshold     float64
	Gain          float64
	DefaultToLeft bool
	LeftStat      NodeStat
	RightStat     NodeStat
}

//NoSplit is the candidate of a node without any admissible split.
func NoSplit() SplitPoint {
	return SplitPoint{FeatureID: -1, Gain: math.Inf(-1)}
}

//Valid is true when the candidate describes an actual partition.
func (sp SplitPoint) Valid() bool {
	return sp.FeatureID >= 0
}

//GoesLeft routes one observed value.
func (sp SplitPoint) GoesLeft(value float64) bool {
	return value > sp.Threshold
}

func (sp SplitPoint) String() string {
	if !sp.Valid() {
		return "no split"
	}
	return fmt.Sprintf("f_%d > %g (gain %.6g, default left %v)", sp.FeatureID, sp.Threshold, sp.Gain, sp.DefaultToLeft)
}

//better tells whether candidate should replace the current best. Equal gains keep the current one,
//so the first feature and the first boundary in scan order win ties.
func better(candidate, current SplitPoint) bool {
	return candidate.Gain > current.Gain
}

//admissible checks the child constraints of a candidate partition.
func (params TreeParams) admissible(left, right NodeStat) bool {
	return left.Count > 0 && right.Count > 0 &&
		left.SumHess >= params.MinChildWeight && right.SumHess >= params.MinChildWeight
}

//boundary describes the position between two distinct values of one node inside one column.
type boundary struct {
	feature   int
	threshold float64
	parent    NodeStat // the whole node
	observed  NodeStat // instances of the node present in the column
	prefix    NodeStat // present instances with values above threshold
	last      bool     // the boundary after the smallest present value
}

//considerBoundary evaluates both default directions at one boundary and updates best.
//Both backends funnel every boundary through here so their decisions agree.
func considerBoundary(b boundary, params TreeParams, best *SplitPoint) {
	missing := NodeStat{}
	if b.parent.Count > b.observed.Count {
		missing = b.parent.Sub(b.observed)
	}

	if !b.last || missing.Count == 0 {
		left := b.prefix.Add(missing)
		right := b.parent.Sub(left)
		tryCandidate(b, left, right, true, params, best)
	}
	if missing.Count > 0 {
		left := b.prefix
		right := b.parent.Sub(left)
		tryCandidate(b, left, right, false, params, best)
	}
}

func tryCandidate(b boundary, left, right NodeStat, defaultToLeft bool, params TreeParams, best *SplitPoint) {
	if !params.admissible(left, right) {
		return
	}
	candidate := SplitPoint{
		FeatureID:     b.feature,
		Threshold:     b.threshold,
		Gain:          SplitGain(b.parent, left, right, params.RegLambda),
		DefaultToLeft: defaultToLeft,
		LeftStat:      left,
		RightStat:     right,
	}
	if better(candidate, *best) {
		*best = candidate
	}
}

//midThreshold is the threshold between two neighbouring distinct values, upper > lower.
func midThreshold(upper, lower float64) float64 {
	thr := upper/2 + lower/2
	if thr >= upper || thr < lower {
		// neighbours too close to have a distinct midpoint
		return lower
	}
	return thr
}

//lastThreshold is a threshold just below the smallest present value, separating present from missing.
func lastThreshold(smallest float64) float64 {
	return math.Nextafter(smallest, math.Inf(-1))
}

//nodeSlots maps tree node ids onto positions in the frontier, -1 for nodes outside of it.
func nodeSlots(numNodes int, frontier []int) []int {
	slots := make([]int, numNodes)
	for ind := range slots {
		slots[ind] = -1
	}
	for slot, node := range frontier {
		slots[node] = slot
	}
	return slots
}

//scanColumn finds the best split of every frontier node within one feature column.
//stats and searchable are indexed by frontier slot, nodeOf maps instances onto tree nodes.
func scanColumn(
	feature int,
	column []KeyValue,
	nodeOf []int,
	slots []int,
	gdPairs []GDPair,
	stats []NodeStat,
	searchable []bool,
	params TreeParams,
) []SplitPoint {
	n := len(stats)
	result := make([]SplitPoint, n)
	for slot := range result {
		result[slot] = NoSplit()
	}

	slotOf := func(ins int) int {
		node := nodeOf[ins]
		if node < 0 {
			return -1
		}
		slot := slots[node]
		if slot < 0 || !searchable[slot] {
			return -1
		}
		return slot
	}

	observed := make([]NodeStat, n)
	for _, kv := range column {
		if slot := slotOf(kv.ID); slot >= 0 {
			observed[slot].AddPair(gdPairs[kv.ID])
		}
	}

	prefix := make([]NodeStat, n)
	lastValue := make([]float64, n)
	for _, kv := range column {
		slot := slotOf(kv.ID)
		if slot < 0 {
			continue
		}
		if prefix[slot].Count > 0 && kv.Value != lastValue[slot] {
			considerBoundary(boundary{
				feature:   feature,
				threshold: midThreshold(lastValue[slot], kv.Value),
				parent:    stats[slot],
				observed:  observed[slot],
				prefix:    prefix[slot],
			}, params, &result[slot])
		}
		prefix[slot].AddPair(gdPairs[kv.ID])
		lastValue[slot] = kv.Value
	}

	for slot := 0; slot < n; slot++ {
		if prefix[slot].Count == 0 {
			continue
		}
		considerBoundary(boundary{
			feature:   feature,
			threshold: lastThreshold(lastValue[slot]),
			parent:    stats[slot],
			observed:  observed[slot],
			prefix:    prefix[slot],
			last:      true,
		}, params, &result[slot])
	}
	return result
}

//reduceFeatures keeps the best candidate per node over all features, lower feature ids win ties.
func reduceFeatures(perFeature [][]SplitPoint, numSlots int) []SplitPoint {
	best := make([]SplitPoint, numSlots)
	for slot := range best {
		best[slot] = NoSplit()
	}
	for _, candidates := range perFeature {
		for slot, candidate := range candidates {
			if candidate.Valid() && better(candidate, best[slot]) {
				best[slot] = candidate
			}
		}
	}
	return best
}

package sbl

import "log"

//BagContext is the tree building state of one bag. It is owned by the Workspace and
//mutated only through the calls of a Splitter that carry its bag id.
type BagContext struct {
	BagID       int
	InBag       []bool    // instances drawn into this bag
	Predictions []float64 // raw predictions of the ensemble built so far
	GD          []GDPair  // gradients of the current round, zero outside the bag
	Tree        *RegTree
	Frontier    []int        // splittable tree node ids of the current level
	NodeOf      []int        // tree node id per instance, -1 outside the bag
	Best        []SplitPoint // per frontier slot, valid after the stream is synchronized
}

//Decision records one applied split, its parent and the ids of the children.
type Decision struct {
	Node       int
	Split      SplitPoint
	LeftChild  int
	RightChild int
}

//applySplits is the backend independent part of split application. It finalizes frontier nodes
//without an accepted split as leaves, materializes children of accepted ones, finalizes children
//which cannot be split further and returns the decisions and the next frontier.
//Instances are not moved here: the backend partitions them according to the decisions.
func applySplits(tree *RegTree, frontier []int, best []SplitPoint, params TreeParams) (decisions []Decision, newFrontier []int) {
	if len(best) != len(frontier) {
		log.Panicf("%d split points for a frontier of %d nodes", len(best), len(frontier))
	}

	for slot, nodeID := range frontier {
		node := tree.TreeNodes[nodeID]
		if !node.IsSplittable() {
			log.Panicf("node %d in the frontier is already finalized", nodeID)
		}
		split := best[slot]
		if !split.Valid() || split.Gain <= params.MinSplitGain || !params.canSplit(node.Stat, node.Depth) {
			tree.finalizeLeaf(nodeID, params)
			continue
		}

		leftID := tree.addChild(node.Depth+1, split.LeftStat)
		rightID := tree.addChild(node.Depth+1, split.RightStat)

		parent := &tree.TreeNodes[nodeID]
		parent.FeatureID = split.FeatureID
		parent.Threshold = split.Threshold
		parent.DefaultToLeft = split.DefaultToLeft
		parent.Gain = split.Gain
		parent.LeftIndex = leftID
		parent.RightIndex = rightID

		decisions = append(decisions, Decision{Node: nodeID, Split: split, LeftChild: leftID, RightChild: rightID})

		for _, child := range []int{leftID, rightID} {
			if params.canSplit(tree.TreeNodes[child].Stat, tree.TreeNodes[child].Depth) {
				newFrontier = append(newFrontier, child)
			} else {
				tree.finalizeLeaf(child, params)
			}
		}
	}
	return
}

//decisionIndex maps tree node ids onto positions in decisions, -1 for nodes not split in this level.
func decisionIndex(numNodes int, decisions []Decision) []int {
	index := make([]int, numNodes)
	for ind := range index {
		index[ind] = -1
	}
	for ind, decision := range decisions {
		index[decision.Node] = ind
	}
	return index
}

//defaultChild is the child that receives the instances without a value.
func (decision Decision) defaultChild() int {
	if decision.Split.DefaultToLeft {
		return decision.LeftChild
	}
	return decision.RightChild
}

//childFor is the child that receives an instance with the given value.
func (decision Decision) childFor(value float64) int {
	if decision.Split.GoesLeft(value) {
		return decision.LeftChild
	}
	return decision.RightChild
}

//partitionByColumns moves the instances of split nodes to their children. Instances of a split node
//first go to the default child, then those present in the split feature's column are routed by value.
func partitionByColumns(nodeOf []int, columns Columns, decisions []Decision, numNodes int) {
	if len(decisions) == 0 {
		return
	}
	index := decisionIndex(numNodes, decisions)

	parentOf := make([]int, len(nodeOf))
	for ins, node := range nodeOf {
		parentOf[ins] = -1
		if node < 0 || index[node] < 0 {
			continue
		}
		parentOf[ins] = node
		nodeOf[ins] = decisions[index[node]].defaultChild()
	}

	byFeature := make(map[int]bool)
	for _, decision := range decisions {
		byFeature[decision.Split.FeatureID] = true
	}
	for feature := range byFeature {
		for _, kv := range columns[feature] {
			parent := parentOf[kv.ID]
			if parent < 0 {
				continue
			}
			decision := decisions[index[parent]]
			if decision.Split.FeatureID != feature {
				continue
			}
			nodeOf[kv.ID] = decision.childFor(kv.Value)
		}
	}
}

//frontierStats reads the statistics of the frontier nodes and whether each of them is searched.
func frontierStats(tree *RegTree, frontier []int, params TreeParams) (stats []NodeStat, searchable []bool) {
	stats = make([]NodeStat, len(frontier))
	searchable = make([]bool, len(frontier))
	for slot, nodeID := range frontier {
		node := tree.TreeNodes[nodeID]
		stats[slot] = node.Stat
		searchable[slot] = params.canSplit(node.Stat, node.Depth)
	}
	return
}

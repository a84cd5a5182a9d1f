package sbl

import (
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//TreeNode is a node of a tree. Tree is stored in an array. LeftIndex and RightIndex are equal to -1
//while the node has no children. A finalized leaf has LeafIndex pointing into the LeafNodes array,
//a node with neither children nor a leaf index is still splittable.
type TreeNode struct {
	TreeNodeID            int
	FeatureID             int
	Threshold             float64
	DefaultToLeft         bool
	Gain                  float64
	LeftIndex, RightIndex int // -1, -1 if it is not internal
	LeafIndex             int // -1 if it is not a finalized leaf
	Depth                 int
	Stat                  NodeStat
}

//NewTreeNode creates a splittable node.
func NewTreeNode(treeNodeID, depth int, stat NodeStat) TreeNode {
	return TreeNode{
		TreeNodeID: treeNodeID,
		FeatureID:  -1,
		LeftIndex:  -1,
		RightIndex: -1,
		LeafIndex:  -1,
		Depth:      depth,
		Stat:       stat,
	}
}

//IsLeaf returns whether this node is a finalized leaf.
func (node TreeNode) IsLeaf() bool {
	return node.LeafIndex != -1
}

//IsInternal returns whether this node has children.
func (node TreeNode) IsInternal() bool {
	return node.LeftIndex != -1
}

//IsSplittable returns whether the node is neither a leaf nor internal.
func (node TreeNode) IsSplittable() bool {
	return !node.IsLeaf() && !node.IsInternal()
}

//GraphDescription returns the description of a tree node for tree rendering as a graph
func (node TreeNode) GraphDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("#", node.Stat.Count))
	sb.WriteString(fmt.Sprintln("id: ", node.TreeNodeID))
	sb.WriteString(fmt.Sprintln("gain: ", node.Gain))
	direction := "right"
	if node.DefaultToLeft {
		direction = "left"
	}
	sb.WriteString(fmt.Sprintln("missing: ", direction))
	sb.WriteString(fmt.Sprintf("f_%d > %6.5f", node.FeatureID, node.Threshold))
	return sb.String()
}

//LeafNode stores the leaf value and the size of the leaf.
type LeafNode struct {
	LeafNodeID      int
	TreeNodeID      int
	Weight          float64
	NumberOfObjects int
}

//GraphDescription returns the description of a leaf node for tree rendering as a graph
func (leaf LeafNode) GraphDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("id: ", leaf.TreeNodeID))
	sb.WriteString(fmt.Sprintf("w = %6.4f\n", leaf.Weight))
	sb.WriteString(fmt.Sprintln("#", leaf.NumberOfObjects))
	return sb.String()
}

//RegTree is one regression tree grown level by level.
type RegTree struct {
	TreeNodes []TreeNode
	LeafNodes []LeafNode
}

//NewRegTree creates a tree consisting of a splittable root.
func NewRegTree(rootStat NodeStat) *RegTree {
	return &RegTree{TreeNodes: []TreeNode{NewTreeNode(0, 0, rootStat)}}
}

//NumNodes returns the number of tree nodes of any kind.
func (tree *RegTree) NumNodes() int {
	return len(tree.TreeNodes)
}

//Depth returns the largest depth among the nodes.
func (tree *RegTree) Depth() (depth int) {
	for _, node := range tree.TreeNodes {
		if node.Depth > depth {
			depth = node.Depth
		}
	}
	return
}

//addChild appends a splittable node and returns its id.
func (tree *RegTree) addChild(depth int, stat NodeStat) int {
	id := len(tree.TreeNodes)
	tree.TreeNodes = append(tree.TreeNodes, NewTreeNode(id, depth, stat))
	return id
}

//finalizeLeaf turns a splittable node into a leaf with the weight -G/(H+lambda) scaled by the learning rate.
func (tree *RegTree) finalizeLeaf(nodeID int, params TreeParams) {
	node := &tree.TreeNodes[nodeID]
	if !node.IsSplittable() {
		return
	}
	leafID := len(tree.LeafNodes)
	tree.LeafNodes = append(tree.LeafNodes, LeafNode{
		LeafNodeID:      leafID,
		TreeNodeID:      nodeID,
		Weight:          node.Stat.Weight(params.RegLambda) * params.LearningRate,
		NumberOfObjects: node.Stat.Count,
	})
	node.LeafIndex = leafID
}

//LeafWeight returns the weight of a finalized leaf node.
func (tree *RegTree) LeafWeight(nodeID int) float64 {
	return tree.LeafNodes[tree.TreeNodes[nodeID].LeafIndex].Weight
}

//Frontier returns the ids of the nodes which are still splittable.
func (tree *RegTree) Frontier() (frontier []int) {
	for ind, node := range tree.TreeNodes {
		if node.IsSplittable() {
			frontier = append(frontier, ind)
		}
	}
	return
}

//LeafOf walks one sparse row from the root to its leaf node and returns the node id.
//The row must be sorted by feature id.
func (tree *RegTree) LeafOf(row []KeyValue) int {
	ind := 0
	for tree.TreeNodes[ind].IsInternal() {
		node := tree.TreeNodes[ind]
		value, present := lookupFeature(row, node.FeatureID)
		goLeft := node.DefaultToLeft
		if present {
			goLeft = value > node.Threshold
		}
		if goLeft {
			ind = node.LeftIndex
		} else {
			ind = node.RightIndex
		}
	}
	return ind
}

//PredictRow returns the leaf weight of a row. A row ending in a node that is not a finalized leaf gets zero.
func (tree *RegTree) PredictRow(row []KeyValue) float64 {
	ind := tree.LeafOf(row)
	if !tree.TreeNodes[ind].IsLeaf() {
		return 0
	}
	return tree.LeafWeight(ind)
}

func lookupFeature(row []KeyValue, feature int) (float64, bool) {
	lo, hi := 0, len(row)
	for lo < hi {
		mid := (lo + hi) / 2
		if row[mid].ID < feature {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(row) && row[lo].ID == feature {
		return row[lo].Value, true
	}
	return 0, false
}

//GetLeafDescription returns the description of a leaf node
func (tree *RegTree) GetLeafDescription(ind int) string {
	return tree.LeafNodes[tree.TreeNodes[ind].LeafIndex].GraphDescription()
}

//GetNodeDescription returns the description of an internal node
func (tree *RegTree) GetNodeDescription(ind int) string {
	return tree.TreeNodes[ind].GraphDescription()
}

func recurrentDraw(g *cgraph.Graph, tree *RegTree, nodeNumber int, parentNode *cgraph.Node, edgeLabel string) {
	currentNode, err := g.CreateNode(fmt.Sprint(tree.TreeNodes[nodeNumber].TreeNodeID))
	HandleError(err)

	if parentNode != nil {
		edge, err := g.CreateEdge("", parentNode, currentNode)
		HandleError(err)
		edge.Set("label", edgeLabel)
	}

	switch {
	case tree.TreeNodes[nodeNumber].IsLeaf():
		currentNode.Set("label", tree.GetLeafDescription(nodeNumber))
		currentNode.Set("shape", "box")
	case tree.TreeNodes[nodeNumber].IsInternal():
		currentNode.Set("label", tree.GetNodeDescription(nodeNumber))
		recurrentDraw(g, tree, tree.TreeNodes[nodeNumber].LeftIndex, currentNode, "yes")
		recurrentDraw(g, tree, tree.TreeNodes[nodeNumber].RightIndex, currentNode, "no")
	default:
		currentNode.Set("label", fmt.Sprintf("open #%d", tree.TreeNodes[nodeNumber].Stat.Count))
	}
}

//DrawGraph builds a graphviz graph of the tree.
func (tree *RegTree) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	HandleError(err)

	recurrentDraw(graph, tree, 0, nil, "")

	return graphViz, graph
}

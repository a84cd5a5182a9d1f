package sbl

import (
	"log"

	"gonum.org/v1/gonum/floats"
)

//GDPair holds the first and the second derivative of the loss for one instance.
type GDPair struct {
	Grad float64
	Hess float64
}

//NodeStat aggregates gradients, hessians and the number of instances routed to one node.
type NodeStat struct {
	SumGrad float64
	SumHess float64
	Count   int
}

//AddPair accumulates one instance.
func (s *NodeStat) AddPair(gd GDPair) {
	s.SumGrad += gd.Grad
	s.SumHess += gd.Hess
	s.Count++
}

//Add returns the union of two disjoint instance sets.
func (s NodeStat) Add(other NodeStat) NodeStat {
	return NodeStat{SumGrad: s.SumGrad + other.SumGrad, SumHess: s.SumHess + other.SumHess, Count: s.Count + other.Count}
}

//Sub returns the statistics of s without a subset described by other.
func (s NodeStat) Sub(other NodeStat) NodeStat {
	return NodeStat{SumGrad: s.SumGrad - other.SumGrad, SumHess: s.SumHess - other.SumHess, Count: s.Count - other.Count}
}

//IsEmpty is true for a node without instances.
func (s NodeStat) IsEmpty() bool {
	return s.Count == 0
}

//Score is the second order structure score g^2/(h+lambda).
func (s NodeStat) Score(regLambda float64) float64 {
	return s.SumGrad * s.SumGrad / (s.SumHess + regLambda)
}

//Weight is the optimal leaf value -g/(h+lambda), before the learning rate is applied.
//A node without curvature gets zero.
func (s NodeStat) Weight(regLambda float64) float64 {
	denominator := s.SumHess + regLambda
	if denominator == 0 {
		return 0
	}
	return -s.SumGrad / denominator
}

//SplitGain is score(left) + score(right) - score(parent).
func SplitGain(parent, left, right NodeStat, regLambda float64) float64 {
	return left.Score(regLambda) + right.Score(regLambda) - parent.Score(regLambda)
}

//Aggregate sums the pairs of the given instances.
func Aggregate(instanceIDs []int, gdPairs []GDPair) NodeStat {
	grads := make([]float64, len(instanceIDs))
	hess := make([]float64, len(instanceIDs))
	for k, id := range instanceIDs {
		if id < 0 || id >= len(gdPairs) {
			log.Panicf("instance %d is out of the gd buffer of length %d", id, len(gdPairs))
		}
		grads[k] = gdPairs[id].Grad
		hess[k] = gdPairs[id].Hess
	}
	return NodeStat{SumGrad: floats.Sum(grads), SumHess: floats.Sum(hess), Count: len(instanceIDs)}
}

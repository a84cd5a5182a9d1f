package sbl

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
)

//Loss supplies derivatives of a pointwise loss with respect to the raw prediction (bias).
type Loss interface {
	lossDer1(target, bias float64) float64
	lossDer2(target, bias float64) float64
}

//MseLoss is the squared error (y - f)^2 / 2.
type MseLoss struct{}

func (MseLoss) lossDer1(target, bias float64) float64 {
	return bias - target
}

func (MseLoss) lossDer2(_, _ float64) float64 {
	return 1.0
}

//LogLoss is the binary cross entropy on logits, targets are 0 or 1.
type LogLoss struct{}

func (LogLoss) lossDer1(target, bias float64) float64 {
	return sigmoid(bias) - target
}

func (LogLoss) lossDer2(_, bias float64) float64 {
	p := sigmoid(bias)
	return math.Max(p*(1-p), 1e-16)
}

//PoissonLoss is the negative Poisson log likelihood with a log link: exp(f) - y*f.
type PoissonLoss struct{}

func (PoissonLoss) lossDer1(target, bias float64) float64 {
	return math.Exp(bias) - target
}

func (PoissonLoss) lossDer2(_, bias float64) float64 {
	return math.Exp(bias)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

//LossByName maps a config name onto a loss.
func LossByName(name string) (Loss, error) {
	switch name {
	case "", "mse":
		return MseLoss{}, nil
	case "logloss":
		return LogLoss{}, nil
	case "poisson":
		return PoissonLoss{}, nil
	}
	return nil, fmt.Errorf("unknown loss kind %q", name)
}

//Rmse is the root mean squared difference of two equally sized vectors.
func Rmse(target, prediction []float64) float64 {
	if len(target) != len(prediction) {
		log.Panicf("rmse of vectors with lengths %d and %d", len(target), len(prediction))
	}
	if len(target) == 0 {
		return 0
	}
	diff := make([]float64, len(target))
	floats.SubTo(diff, prediction, target)
	return floats.Norm(diff, 2) / math.Sqrt(float64(len(target)))
}

// Package loss provides Gorgonia graph operations that compute
// regression losses between predicted and target values.
package loss

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Type names a loss function
type Type string

// Available losses
const (
	MSE   Type = "mse"
	Huber Type = "huber"
)

// huberDelta is the threshold between the quadratic and linear parts
// of the Huber loss
const huberDelta = 1.0

// Func computes a scalar loss node from prediction and target nodes of
// the same shape
type Func func(pred, target *G.Node) (*G.Node, error)

// ByName returns the loss function named t
func ByName(t Type) (Func, error) {
	switch t {
	case MSE:
		return MeanSquared, nil
	case Huber:
		return func(pred, target *G.Node) (*G.Node, error) {
			return MeanHuber(pred, target, huberDelta)
		}, nil
	default:
		return nil, errors.Errorf("byName: unknown loss %q", t)
	}
}

// Valid returns whether t names a known loss
func Valid(t Type) bool {
	_, err := ByName(t)
	return err == nil
}

// MeanSquared returns the mean squared error between pred and target
func MeanSquared(pred, target *G.Node) (*G.Node, error) {
	diff, err := G.Sub(pred, target)
	if err != nil {
		return nil, errors.Wrap(err, "meanSquared")
	}
	sq, err := G.Square(diff)
	if err != nil {
		return nil, errors.Wrap(err, "meanSquared")
	}
	return G.Mean(sq)
}

// MeanHuber returns the mean Huber loss between pred and target. With
// x = pred - target and c = Clip(x, -delta, delta) the elementwise loss
// is 0.5c² + delta(|x| - |c|), which is quadratic for |x| < delta and
// linear beyond.
func MeanHuber(pred, target *G.Node, delta float64) (*G.Node, error) {
	x, err := G.Sub(pred, target)
	if err != nil {
		return nil, errors.Wrap(err, "meanHuber")
	}
	c, err := Clip(x, -delta, delta)
	if err != nil {
		return nil, errors.Wrap(err, "meanHuber")
	}

	quadratic := G.Must(G.Square(c))
	quadratic = G.Must(G.HadamardProd(quadratic, G.NewConstant(0.5)))

	linear := G.Must(G.Sub(G.Must(G.Abs(x)), G.Must(G.Abs(c))))
	linear = G.Must(G.HadamardProd(linear, G.NewConstant(delta)))

	return G.Mean(G.Must(G.Add(quadratic, linear)))
}

// Clip clips the value of a node
func Clip(value *G.Node, min, max float64) (retVal *G.Node, err error) {
	// Construct clipping nodes
	var minNode, maxNode *G.Node
	switch value.Dtype() {
	case G.Float32:
		minNode = G.NewScalar(
			value.Graph(),
			G.Float32,
			G.WithValue(float32(min)),
			G.WithName("clip_min"),
		)
		maxNode = G.NewScalar(
			value.Graph(),
			G.Float32,
			G.WithValue(float32(max)),
			G.WithName("clip_max"),
		)
	case G.Float64:
		minNode = G.NewScalar(
			value.Graph(),
			G.Float64,
			G.WithValue(min),
			G.WithName("clip_min"),
		)
		maxNode = G.NewScalar(
			value.Graph(),
			G.Float64,
			G.WithValue(max),
			G.WithName("clip_max"),
		)
	default:
		return nil, errors.Errorf("clip: unsupported dtype %v", value.Dtype())
	}

	// Check if its the min value
	minMask, err := G.Lte(value, minNode, true)
	if err != nil {
		return nil, err
	}
	minVal, err := G.HadamardProd(minNode, minMask)
	if err != nil {
		return nil, err
	}

	// Check if its the given value
	isMaskGt, err := G.Gt(value, minNode, true)
	if err != nil {
		return nil, err
	}
	isMaskLt, err := G.Lt(value, maxNode, true)
	if err != nil {
		return nil, err
	}
	isMask, err := G.HadamardProd(isMaskGt, isMaskLt)
	if err != nil {
		return nil, err
	}
	isVal, err := G.HadamardProd(value, isMask)
	if err != nil {
		return nil, err
	}

	// Check if its the max value
	maxMask, err := G.Gte(value, maxNode, true)
	if err != nil {
		return nil, err
	}
	maxVal, err := G.HadamardProd(maxNode, maxMask)
	if err != nil {
		return nil, err
	}
	return G.ReduceAdd(G.Nodes{minVal, isVal, maxVal})
}

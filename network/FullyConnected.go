package network

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer adds a new fcLayer with in inputs and out outputs to the
// graph g. Weights are initialized with init and biases with zeroes.
func newFCLayer(g *G.ExprGraph, in, out int, act *Activation,
	init G.InitWFn, name string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithName(name+"_weights"),
		G.WithInit(init),
	)
	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, out),
		G.WithName(name+"_bias"),
		G.WithInit(G.Zeroes()),
	)
	return &fcLayer{weights: weights, bias: bias, act: act}
}

// Fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, f.weights)
	if err != nil {
		return nil, err
	}

	// Broadcast the bias weights to all samples along the batch
	// dimension
	x, err = G.BroadcastAdd(x, f.bias, nil, []byte{0})
	if err != nil {
		return nil, err
	}

	if f.act == nil || f.act.IsLinear() {
		return x, nil
	}
	return f.act.fwd(x)
}

// FullyConnected is a stack of fully connected layers. Each layer but
// the last is followed by dropout when the network is built for
// training and the dropout ratio is positive.
type FullyConnected struct {
	layers  []*fcLayer
	dropout float64
	train   bool
}

// ValidateLayers checks that there is one activation per layer size
func ValidateLayers(sizes []int, activations []*Activation) error {
	if len(sizes) != len(activations) {
		return errors.Errorf("validateLayers: Must have the same numbers of "+
			"sizes and activations\n\twant(%d)\n\thave(%d)", len(sizes),
			len(activations))
	}
	for i, size := range sizes {
		if size <= 0 {
			return errors.Errorf("validateLayers: layer %d must have "+
				"positive size\n\twant(> 0)\n\thave(%d)", i, size)
		}
	}
	for i, act := range activations {
		if act == nil {
			return errors.Errorf("validateLayers: layer %d has no "+
				"activation", i)
		}
	}
	return nil
}

// NewFullyConnected adds a fully connected network to g. The network
// has len(sizes) layers taking inputs features, where layer i has
// sizes[i] units followed by activations[i].
func NewFullyConnected(g *G.ExprGraph, inputs int, sizes []int,
	activations []*Activation, dropout float64, init G.InitWFn,
	train bool, prefix string) (*FullyConnected, error) {
	if err := ValidateLayers(sizes, activations); err != nil {
		return nil, errors.Wrap(err, "newFullyConnected")
	}
	if inputs <= 0 {
		return nil, errors.Errorf("newFullyConnected: invalid number of "+
			"inputs\n\twant(> 0)\n\thave(%d)", inputs)
	}
	if dropout < 0 || dropout >= 1 {
		return nil, errors.Errorf("newFullyConnected: invalid dropout "+
			"ratio\n\twant([0, 1))\n\thave(%v)", dropout)
	}

	layers := make([]*fcLayer, len(sizes))
	in := inputs
	for i, out := range sizes {
		name := fmt.Sprintf("%s_layer_%d", prefix, i)
		layers[i] = newFCLayer(g, in, out, activations[i], init, name)
		in = out
	}

	return &FullyConnected{
		layers:  layers,
		dropout: dropout,
		train:   train,
	}, nil
}

// fwd adds the forward pass of the network on input x to the graph
func (f *FullyConnected) fwd(x *G.Node) (*G.Node, error) {
	var err error
	for i, l := range f.layers {
		if x, err = l.fwd(x); err != nil {
			return nil, errors.Wrapf(err, "fwd: could not compute forward "+
				"pass of layer %v", i)
		}

		if f.train && f.dropout > 0 && i < len(f.layers)-1 {
			if x, err = G.Dropout(x, f.dropout); err != nil {
				return nil, errors.Wrapf(err, "fwd: could not add dropout "+
					"to layer %v", i)
			}
		}
	}
	return x, nil
}

// Learnables returns the weights and biases of each layer in order
func (f *FullyConnected) Learnables() G.Nodes {
	learnables := make(G.Nodes, 0, 2*len(f.layers))
	for _, l := range f.layers {
		learnables = append(learnables, l.weights, l.bias)
	}
	return learnables
}

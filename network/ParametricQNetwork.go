package network

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ParametricConfig describes the architecture of a ParametricQNetwork
type ParametricConfig struct {
	StateDim  int
	ActionDim int
	OutputDim int

	// Hidden layers
	Sizes        []int
	Activations  []*Activation
	DropoutRatio float64

	InitWFn G.InitWFn
}

// Validate checks the ParametricConfig for errors
func (c ParametricConfig) Validate() error {
	if c.StateDim <= 0 {
		return errors.Errorf("validate: invalid state dimension"+
			"\n\twant(> 0)\n\thave(%d)", c.StateDim)
	}
	if c.ActionDim <= 0 {
		return errors.Errorf("validate: invalid action dimension"+
			"\n\twant(> 0)\n\thave(%d)", c.ActionDim)
	}
	if c.OutputDim <= 0 {
		return errors.Errorf("validate: invalid output dimension"+
			"\n\twant(> 0)\n\thave(%d)", c.OutputDim)
	}
	return ValidateLayers(c.Sizes, c.Activations)
}

// ParametricQNetwork predicts OutputDim values for each state-action
// pair. The state and action are concatenated and passed through a
// fully connected network followed by a linear output layer.
type ParametricQNetwork struct {
	qNetwork
	config ParametricConfig
	train  bool

	state  *G.Node
	action *G.Node
}

// NewParametricQNetwork returns a new ParametricQNetwork taking batch
// state-action pairs as input. If train is true, the network includes
// dropout.
func NewParametricQNetwork(config ParametricConfig, batch int,
	train bool) (*ParametricQNetwork, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "newParametricQNetwork")
	}
	if batch <= 0 {
		return nil, errors.Errorf("newParametricQNetwork: invalid batch "+
			"size\n\twant(> 0)\n\thave(%d)", batch)
	}

	init := config.InitWFn
	if init == nil {
		init = G.GlorotU(1.0)
	}

	g := G.NewGraph()
	state := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, config.StateDim), G.WithName("state"),
		G.WithInit(G.Zeroes()))
	action := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, config.ActionDim), G.WithName("action"),
		G.WithInit(G.Zeroes()))
	input := G.Must(G.Concat(1, state, action))

	// Add a final linear layer so that the network predicts OutputDim
	// values
	sizes := append(append([]int(nil), config.Sizes...), config.OutputDim)
	activations := append(append([]*Activation(nil), config.Activations...),
		Linear())

	fc, err := NewFullyConnected(g, config.StateDim+config.ActionDim, sizes,
		activations, config.DropoutRatio, init, train, "q")
	if err != nil {
		return nil, errors.Wrap(err, "newParametricQNetwork")
	}

	pred, err := fc.fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricQNetwork")
	}

	net := &ParametricQNetwork{
		qNetwork: newQNetwork(g, batch, config.OutputDim, fc.Learnables(),
			pred),
		config: config,
		train:  train,
		state:  state,
		action: action,
	}
	net.read()

	return net, nil
}

// Config returns the architecture of the network
func (p *ParametricQNetwork) Config() ParametricConfig {
	return p.config
}

// StateDim returns the number of preprocessed state features
func (p *ParametricQNetwork) StateDim() int {
	return p.config.StateDim
}

// ActionDim returns the number of preprocessed action features
func (p *ParametricQNetwork) ActionDim() int {
	return p.config.ActionDim
}

// SetInput sets the value of the state and action input nodes before
// running the forward pass. Both are row-major with BatchSize() rows.
func (p *ParametricQNetwork) SetInput(state, action []float64) error {
	if err := setMatrix(p.state, p.batchSize, p.config.StateDim,
		state); err != nil {
		return errors.Wrap(err, "setInput")
	}
	if err := setMatrix(p.action, p.batchSize, p.config.ActionDim,
		action); err != nil {
		return errors.Wrap(err, "setInput")
	}
	return nil
}

// CloneWithBatch clones the network to a new computational graph with a
// new input batch size. The clone has the same weights.
func (p *ParametricQNetwork) CloneWithBatch(batch int,
	train bool) (*ParametricQNetwork, error) {
	config := p.config
	config.InitWFn = G.Zeroes()

	clone, err := NewParametricQNetwork(config, batch, train)
	if err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	if err := clone.Set(p); err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	clone.config.InitWFn = p.config.InitWFn
	return clone, nil
}

// TargetNetwork returns a copy of the network to be used as a target
// network
func (p *ParametricQNetwork) TargetNetwork() (*ParametricQNetwork, error) {
	return p.CloneWithBatch(p.batchSize, false)
}

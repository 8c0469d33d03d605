package network

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DiscreteConfig describes the architecture of a DiscreteQNetwork
type DiscreteConfig struct {
	StateDim int

	// Id-list features, one vocabulary size per feature
	VocabSizes   []int
	EmbeddingDim int

	// Number of actions
	OutputDim int

	// Hidden layers
	Sizes        []int
	Activations  []*Activation
	DropoutRatio float64

	InitWFn G.InitWFn
}

// Validate checks the DiscreteConfig for errors
func (c DiscreteConfig) Validate() error {
	if c.StateDim < 0 {
		return errors.Errorf("validate: invalid state dimension"+
			"\n\twant(>= 0)\n\thave(%d)", c.StateDim)
	}
	if c.StateDim == 0 && len(c.VocabSizes) == 0 {
		return errors.New("validate: network has no input features")
	}
	if c.OutputDim <= 0 {
		return errors.Errorf("validate: invalid output dimension"+
			"\n\twant(> 0)\n\thave(%d)", c.OutputDim)
	}
	if len(c.VocabSizes) > 0 && c.EmbeddingDim <= 0 {
		return errors.Errorf("validate: invalid embedding dimension"+
			"\n\twant(> 0)\n\thave(%d)", c.EmbeddingDim)
	}
	return ValidateLayers(c.Sizes, c.Activations)
}

// DiscreteQNetwork predicts one value per discrete action. Dense state
// features are joined with embeddings of id-list features, then passed
// through a fully connected network followed by a linear output layer.
type DiscreteQNetwork struct {
	qNetwork
	config DiscreteConfig
	train  bool

	state  *G.Node
	joiner *IDListJoiner
}

// NewDiscreteQNetwork returns a new DiscreteQNetwork taking batch
// inputs. If train is true, the network includes dropout.
func NewDiscreteQNetwork(config DiscreteConfig, batch int,
	train bool) (*DiscreteQNetwork, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "newDiscreteQNetwork")
	}
	if batch <= 0 {
		return nil, errors.Errorf("newDiscreteQNetwork: invalid batch "+
			"size\n\twant(> 0)\n\thave(%d)", batch)
	}

	init := config.InitWFn
	if init == nil {
		init = G.GlorotU(1.0)
	}

	g := G.NewGraph()
	var state *G.Node
	if config.StateDim > 0 {
		state = G.NewMatrix(g, tensor.Float64,
			G.WithShape(batch, config.StateDim), G.WithName("state"),
			G.WithInit(G.Zeroes()))
	}

	joiner, err := NewIDListJoiner(g, batch, config.StateDim,
		config.EmbeddingDim, config.VocabSizes, init)
	if err != nil {
		return nil, errors.Wrap(err, "newDiscreteQNetwork")
	}
	input, err := joiner.fwd(state)
	if err != nil {
		return nil, errors.Wrap(err, "newDiscreteQNetwork")
	}

	sizes := append(append([]int(nil), config.Sizes...), config.OutputDim)
	activations := append(append([]*Activation(nil), config.Activations...),
		Linear())

	fc, err := NewFullyConnected(g, joiner.OutputDim(), sizes, activations,
		config.DropoutRatio, init, train, "q")
	if err != nil {
		return nil, errors.Wrap(err, "newDiscreteQNetwork")
	}

	pred, err := fc.fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "newDiscreteQNetwork")
	}

	learnables := append(joiner.Learnables(), fc.Learnables()...)
	net := &DiscreteQNetwork{
		qNetwork: newQNetwork(g, batch, config.OutputDim, learnables, pred),
		config:   config,
		train:    train,
		state:    state,
		joiner:   joiner,
	}
	net.read()

	return net, nil
}

// Config returns the architecture of the network
func (d *DiscreteQNetwork) Config() DiscreteConfig {
	return d.config
}

// StateDim returns the number of preprocessed dense state features
func (d *DiscreteQNetwork) StateDim() int {
	return d.config.StateDim
}

// JoinedDim returns the number of features after joining dense state
// features with id-list embeddings
func (d *DiscreteQNetwork) JoinedDim() int {
	return d.joiner.OutputDim()
}

// SetInput sets the value of the input nodes before running the
// forward pass. The state is row-major with BatchSize() rows, and
// bags[i] is the row-major [BatchSize(), vocab] bag of the i-th id-list
// feature.
func (d *DiscreteQNetwork) SetInput(state []float64, bags [][]float64) error {
	if d.state != nil {
		if err := setMatrix(d.state, d.batchSize, d.config.StateDim,
			state); err != nil {
			return errors.Wrap(err, "setInput")
		}
	} else if len(state) != 0 {
		return errors.Errorf("setInput: network has no dense state "+
			"features\n\twant(0)\n\thave(%d)", len(state))
	}

	if err := d.joiner.setBags(d.batchSize, bags); err != nil {
		return errors.Wrap(err, "setInput")
	}
	return nil
}

// CloneWithBatch clones the network to a new computational graph with a
// new input batch size. The clone has the same weights.
func (d *DiscreteQNetwork) CloneWithBatch(batch int,
	train bool) (*DiscreteQNetwork, error) {
	config := d.config
	config.InitWFn = G.Zeroes()

	clone, err := NewDiscreteQNetwork(config, batch, train)
	if err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	if err := clone.Set(d); err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	clone.config.InitWFn = d.config.InitWFn
	return clone, nil
}

// TargetNetwork returns a copy of the network to be used as a target
// network
func (d *DiscreteQNetwork) TargetNetwork() (*DiscreteQNetwork, error) {
	return d.CloneWithBatch(d.batchSize, false)
}

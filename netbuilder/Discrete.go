package netbuilder

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/features"
	"github.com/samuelfneumann/offlineq/initwfn"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/serving"
)

// DiscreteDQNWithIdListNetBuilder builds Q networks predicting one
// value per discrete action from dense state features and id-list
// features
type DiscreteDQNWithIdListNetBuilder interface {
	// BuildQNetwork returns a network taking preprocessed states and
	// bags of the id-list features of featureConfig, predicting
	// outputDim values
	BuildQNetwork(featureConfig *features.ModelFeatureConfig,
		stateNorm normalization.Data,
		outputDim int) (*network.DiscreteQNetwork, error)

	// BuildServingModule wraps a network built by BuildQNetwork so
	// that it scores raw features
	BuildServingModule(q *network.DiscreteQNetwork,
		featureConfig *features.ModelFeatureConfig,
		stateNorm normalization.Data,
		actionNames []string) (*serving.DiscretePredictor, error)

	Validate() error
}

// FullyConnectedWithEmbedding builds a DiscreteQNetwork that joins
// dense state features with learned embeddings of each id-list feature
// before a stack of fully connected layers
type FullyConnectedWithEmbedding struct {
	Sizes        []int            `json:"sizes"`
	Activations  []string         `json:"activations"`
	EmbeddingDim int              `json:"embedding_dim"`
	DropoutRatio float64          `json:"dropout_ratio"`
	InitWFn      *initwfn.InitWFn `json:"init_w_fn,omitempty"`
}

// NewFullyConnectedWithEmbedding returns the default
// FullyConnectedWithEmbedding builder
func NewFullyConnectedWithEmbedding() *FullyConnectedWithEmbedding {
	return &FullyConnectedWithEmbedding{
		Sizes:        []int{256, 128},
		Activations:  []string{"relu", "relu"},
		EmbeddingDim: 64,
	}
}

// Validate implements the DiscreteDQNWithIdListNetBuilder interface
func (f *FullyConnectedWithEmbedding) Validate() error {
	if _, err := hiddenLayers(f.Sizes, f.Activations,
		f.DropoutRatio); err != nil {
		return err
	}
	if f.EmbeddingDim <= 0 {
		return errors.Errorf("validate: invalid embedding dimension"+
			"\n\twant(> 0)\n\thave(%d)", f.EmbeddingDim)
	}
	return nil
}

// BuildQNetwork implements the DiscreteDQNWithIdListNetBuilder
// interface
func (f *FullyConnectedWithEmbedding) BuildQNetwork(
	featureConfig *features.ModelFeatureConfig, stateNorm normalization.Data,
	outputDim int) (*network.DiscreteQNetwork, error) {
	if err := f.Validate(); err != nil {
		return nil, errors.Wrap(err, "buildQNetwork")
	}
	activations, _ := network.ActivationsByName(f.Activations)

	var vocabs []int
	if featureConfig != nil {
		if err := featureConfig.Validate(); err != nil {
			return nil, errors.Wrap(err, "buildQNetwork")
		}
		vocabs = featureConfig.VocabSizes()
	}

	config := network.DiscreteConfig{
		StateDim:     normalization.InputDim(stateNorm.DenseNormalizationParameters),
		VocabSizes:   vocabs,
		EmbeddingDim: f.EmbeddingDim,
		OutputDim:    outputDim,
		Sizes:        append([]int(nil), f.Sizes...),
		Activations:  activations,
		DropoutRatio: f.DropoutRatio,
		InitWFn:      f.InitWFn.InitWFn(),
	}
	q, err := network.NewDiscreteQNetwork(config, 1, false)
	return q, errors.Wrap(err, "buildQNetwork")
}

// BuildServingModule implements the DiscreteDQNWithIdListNetBuilder
// interface
func (f *FullyConnectedWithEmbedding) BuildServingModule(
	q *network.DiscreteQNetwork, featureConfig *features.ModelFeatureConfig,
	stateNorm normalization.Data,
	actionNames []string) (*serving.DiscretePredictor, error) {
	p, err := serving.NewDiscretePredictor(q, featureConfig, stateNorm,
		actionNames)
	return p, errors.Wrap(err, "buildServingModule")
}

// DiscreteFullyConnected builds a DiscreteQNetwork over dense state
// features only. Id-list features are ignored.
type DiscreteFullyConnected struct {
	Sizes        []int            `json:"sizes"`
	Activations  []string         `json:"activations"`
	DropoutRatio float64          `json:"dropout_ratio"`
	InitWFn      *initwfn.InitWFn `json:"init_w_fn,omitempty"`
}

// NewDiscreteFullyConnected returns the default DiscreteFullyConnected
// builder
func NewDiscreteFullyConnected() *DiscreteFullyConnected {
	return &DiscreteFullyConnected{
		Sizes:       []int{256, 128},
		Activations: []string{"relu", "relu"},
	}
}

// Validate implements the DiscreteDQNWithIdListNetBuilder interface
func (d *DiscreteFullyConnected) Validate() error {
	_, err := hiddenLayers(d.Sizes, d.Activations, d.DropoutRatio)
	return err
}

// BuildQNetwork implements the DiscreteDQNWithIdListNetBuilder
// interface
func (d *DiscreteFullyConnected) BuildQNetwork(
	_ *features.ModelFeatureConfig, stateNorm normalization.Data,
	outputDim int) (*network.DiscreteQNetwork, error) {
	activations, err := hiddenLayers(d.Sizes, d.Activations, d.DropoutRatio)
	if err != nil {
		return nil, errors.Wrap(err, "buildQNetwork")
	}

	config := network.DiscreteConfig{
		StateDim:     normalization.InputDim(stateNorm.DenseNormalizationParameters),
		OutputDim:    outputDim,
		Sizes:        append([]int(nil), d.Sizes...),
		Activations:  activations,
		DropoutRatio: d.DropoutRatio,
		InitWFn:      d.InitWFn.InitWFn(),
	}
	q, err := network.NewDiscreteQNetwork(config, 1, false)
	return q, errors.Wrap(err, "buildQNetwork")
}

// BuildServingModule implements the DiscreteDQNWithIdListNetBuilder
// interface
func (d *DiscreteFullyConnected) BuildServingModule(
	q *network.DiscreteQNetwork, _ *features.ModelFeatureConfig,
	stateNorm normalization.Data,
	actionNames []string) (*serving.DiscretePredictor, error) {
	p, err := serving.NewDiscretePredictor(q, nil, stateNorm, actionNames)
	return p, errors.Wrap(err, "buildServingModule")
}

// DiscreteDQNNetBuilderType names a DiscreteDQNWithIdListNetBuilder
// variant
type DiscreteDQNNetBuilderType string

// Available DiscreteDQNWithIdListNetBuilder variants
const (
	FullyConnectedWithEmbeddingType DiscreteDQNNetBuilderType = "FullyConnectedWithEmbedding"
	DiscreteFullyConnectedType      DiscreteDQNNetBuilderType = "FullyConnected"
)

var discreteDefaults = map[DiscreteDQNNetBuilderType]func() DiscreteDQNWithIdListNetBuilder{
	FullyConnectedWithEmbeddingType: func() DiscreteDQNWithIdListNetBuilder {
		return NewFullyConnectedWithEmbedding()
	},
	DiscreteFullyConnectedType: func() DiscreteDQNWithIdListNetBuilder {
		return NewDiscreteFullyConnected()
	},
}

// DiscreteDQNNetBuilderUnion holds exactly one
// DiscreteDQNWithIdListNetBuilder variant so that it can be JSON
// marshalled and unmarshalled
type DiscreteDQNNetBuilderUnion struct {
	DiscreteDQNWithIdListNetBuilder
}

// Value returns the builder held by the union
func (u DiscreteDQNNetBuilderUnion) Value() (DiscreteDQNWithIdListNetBuilder,
	error) {
	if u.DiscreteDQNWithIdListNetBuilder == nil {
		return nil, errors.New("value: no net builder set")
	}
	return u.DiscreteDQNWithIdListNetBuilder, nil
}

// Type returns the variant held by the union
func (u DiscreteDQNNetBuilderUnion) Type() (DiscreteDQNNetBuilderType, error) {
	switch u.DiscreteDQNWithIdListNetBuilder.(type) {
	case *FullyConnectedWithEmbedding:
		return FullyConnectedWithEmbeddingType, nil
	case *DiscreteFullyConnected:
		return DiscreteFullyConnectedType, nil
	default:
		return "", errors.Errorf("type: unknown net builder %T",
			u.DiscreteDQNWithIdListNetBuilder)
	}
}

// MarshalJSON implements the json.Marshaler interface
func (u DiscreteDQNNetBuilderUnion) MarshalJSON() ([]byte, error) {
	t, err := u.Type()
	if err != nil {
		return nil, errors.Wrap(err, "marshalJSON")
	}
	return json.Marshal(map[DiscreteDQNNetBuilderType]DiscreteDQNWithIdListNetBuilder{
		t: u.DiscreteDQNWithIdListNetBuilder,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (u *DiscreteDQNNetBuilderUnion) UnmarshalJSON(data []byte) error {
	typeName, raw, err := singleKey[DiscreteDQNNetBuilderType](data)
	if err != nil {
		return errors.Wrap(err, "unmarshalJSON")
	}

	newBuilder, ok := discreteDefaults[typeName]
	if !ok {
		return errors.Errorf("unmarshalJSON: unknown net builder %q",
			typeName)
	}
	builder := newBuilder()
	if err := json.Unmarshal(raw, builder); err != nil {
		return errors.Wrapf(err, "unmarshalJSON: %v", typeName)
	}
	if err := builder.Validate(); err != nil {
		return errors.Wrapf(err, "unmarshalJSON: %v", typeName)
	}
	u.DiscreteDQNWithIdListNetBuilder = builder
	return nil
}

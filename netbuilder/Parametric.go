// Package netbuilder implements configurable builders of Q networks
// and of the serving modules wrapping them. Builders are closed sets of
// variants, serialized as a single-key object naming the variant:
//
//	{"FullyConnectedWithEmbedding": {"sizes": [256, 128]}}
//
// Fields that are omitted keep their default values.
package netbuilder

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/initwfn"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/serving"
)

// ParametricDQNNetBuilder builds Q networks over state-action pairs
type ParametricDQNNetBuilder interface {
	// BuildQNetwork returns a network taking preprocessed states and
	// actions and predicting outputDim values
	BuildQNetwork(stateNorm, actionNorm normalization.Data,
		outputDim int) (*network.ParametricQNetwork, error)

	// BuildServingModule wraps a network built by BuildQNetwork so
	// that it scores raw features
	BuildServingModule(q *network.ParametricQNetwork, stateNorm,
		actionNorm normalization.Data) (*serving.ParametricPredictor, error)

	Validate() error
}

// FullyConnected builds a ParametricQNetwork with fully connected
// hidden layers
type FullyConnected struct {
	Sizes        []int            `json:"sizes"`
	Activations  []string         `json:"activations"`
	DropoutRatio float64          `json:"dropout_ratio"`
	InitWFn      *initwfn.InitWFn `json:"init_w_fn,omitempty"`
}

// NewFullyConnected returns the default FullyConnected builder
func NewFullyConnected() *FullyConnected {
	return &FullyConnected{
		Sizes:       []int{128, 64},
		Activations: []string{"relu", "relu"},
	}
}

// Validate implements the ParametricDQNNetBuilder interface
func (f *FullyConnected) Validate() error {
	_, err := hiddenLayers(f.Sizes, f.Activations, f.DropoutRatio)
	return err
}

// BuildQNetwork implements the ParametricDQNNetBuilder interface
func (f *FullyConnected) BuildQNetwork(stateNorm, actionNorm normalization.Data,
	outputDim int) (*network.ParametricQNetwork, error) {
	activations, err := hiddenLayers(f.Sizes, f.Activations, f.DropoutRatio)
	if err != nil {
		return nil, errors.Wrap(err, "buildQNetwork")
	}

	config := network.ParametricConfig{
		StateDim:     normalization.InputDim(stateNorm.DenseNormalizationParameters),
		ActionDim:    normalization.InputDim(actionNorm.DenseNormalizationParameters),
		OutputDim:    outputDim,
		Sizes:        append([]int(nil), f.Sizes...),
		Activations:  activations,
		DropoutRatio: f.DropoutRatio,
		InitWFn:      f.InitWFn.InitWFn(),
	}
	q, err := network.NewParametricQNetwork(config, 1, false)
	return q, errors.Wrap(err, "buildQNetwork")
}

// BuildServingModule implements the ParametricDQNNetBuilder interface
func (f *FullyConnected) BuildServingModule(q *network.ParametricQNetwork,
	stateNorm, actionNorm normalization.Data) (*serving.ParametricPredictor,
	error) {
	p, err := serving.NewParametricPredictor(q, stateNorm, actionNorm)
	return p, errors.Wrap(err, "buildServingModule")
}

// hiddenLayers validates a hidden layer configuration and returns its
// activations
func hiddenLayers(sizes []int, activations []string,
	dropout float64) ([]*network.Activation, error) {
	if len(sizes) != len(activations) {
		return nil, errors.Errorf("validate: Must have the same numbers of "+
			"sizes and activations\n\twant(%d)\n\thave(%d)", len(sizes),
			len(activations))
	}
	if dropout < 0 || dropout >= 1 {
		return nil, errors.Errorf("validate: invalid dropout ratio"+
			"\n\twant([0, 1))\n\thave(%v)", dropout)
	}

	acts, err := network.ActivationsByName(activations)
	if err != nil {
		return nil, errors.Wrap(err, "validate")
	}
	if err := network.ValidateLayers(sizes, acts); err != nil {
		return nil, errors.Wrap(err, "validate")
	}
	return acts, nil
}

// ParametricDQNNetBuilderType names a ParametricDQNNetBuilder variant
type ParametricDQNNetBuilderType string

// Available ParametricDQNNetBuilder variants
const (
	FullyConnectedType ParametricDQNNetBuilderType = "FullyConnected"
)

var parametricDefaults = map[ParametricDQNNetBuilderType]func() ParametricDQNNetBuilder{
	FullyConnectedType: func() ParametricDQNNetBuilder { return NewFullyConnected() },
}

// ParametricDQNNetBuilderUnion holds exactly one ParametricDQNNetBuilder
// variant so that it can be JSON marshalled and unmarshalled
type ParametricDQNNetBuilderUnion struct {
	ParametricDQNNetBuilder
}

// Value returns the builder held by the union
func (u ParametricDQNNetBuilderUnion) Value() (ParametricDQNNetBuilder, error) {
	if u.ParametricDQNNetBuilder == nil {
		return nil, errors.New("value: no net builder set")
	}
	return u.ParametricDQNNetBuilder, nil
}

// Type returns the variant held by the union
func (u ParametricDQNNetBuilderUnion) Type() (ParametricDQNNetBuilderType,
	error) {
	switch u.ParametricDQNNetBuilder.(type) {
	case *FullyConnected:
		return FullyConnectedType, nil
	default:
		return "", errors.Errorf("type: unknown net builder %T",
			u.ParametricDQNNetBuilder)
	}
}

// MarshalJSON implements the json.Marshaler interface
func (u ParametricDQNNetBuilderUnion) MarshalJSON() ([]byte, error) {
	t, err := u.Type()
	if err != nil {
		return nil, errors.Wrap(err, "marshalJSON")
	}
	return json.Marshal(map[ParametricDQNNetBuilderType]ParametricDQNNetBuilder{
		t: u.ParametricDQNNetBuilder,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (u *ParametricDQNNetBuilderUnion) UnmarshalJSON(data []byte) error {
	typeName, raw, err := singleKey[ParametricDQNNetBuilderType](data)
	if err != nil {
		return errors.Wrap(err, "unmarshalJSON")
	}

	newBuilder, ok := parametricDefaults[typeName]
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
	u.ParametricDQNNetBuilder = builder
	return nil
}

// singleKey decodes a JSON object with exactly one key
func singleKey[K ~string](data []byte) (K, json.RawMessage, error) {
	var m map[K]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, err
	}
	if len(m) != 1 {
		return "", nil, errors.Errorf("expected exactly one variant"+
			"\n\twant(1)\n\thave(%v)", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	panic("unreachable")
}

package network

import (
	"encoding/json"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

type activationType string

const (
	relu      activationType = "relu"
	linear    activationType = "linear"
	tanh      activationType = "tanh"
	sigmoid   activationType = "sigmoid"
	leakyReLU activationType = "leaky_relu"
)

// leakyReLUAlpha is the slope of a leaky ReLU for negative inputs
const leakyReLUAlpha = 0.01

// Activation represents an activation function type
type Activation struct {
	activationType
	f func(x *G.Node) (*G.Node, error)
}

// Fwd performs the forward pass of an Activation
func (a *Activation) fwd(x *G.Node) (*G.Node, error) {
	return a.f(x)
}

// String implements the Stringer interface
func (a *Activation) String() string {
	return string(a.activationType)
}

// IsLinear returns whether or not the Activation is the identity
// function.
func (a *Activation) IsLinear() bool {
	return a.activationType == linear
}

// GobEncode implements the GobEncoder interface
func (a *Activation) GobEncode() ([]byte, error) {
	return []byte(a.activationType), nil
}

// GobDecode implements the GobDecoder interface
func (a *Activation) GobDecode(encoded []byte) error {
	decoded, err := ActivationByName(string(encoded))
	if err != nil {
		return errors.Wrap(err, "gobdecode")
	}
	*a = *decoded
	return nil
}

// MarshalJSON encodes an Activation as its name
func (a *Activation) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an Activation from its name
func (a *Activation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.Wrap(err, "unmarshalJSON: activation must be a string")
	}
	decoded, err := ActivationByName(name)
	if err != nil {
		return errors.Wrap(err, "unmarshalJSON")
	}
	*a = *decoded
	return nil
}

// ActivationByName returns the Activation called name
func ActivationByName(name string) (*Activation, error) {
	switch activationType(name) {
	case relu:
		return ReLU(), nil
	case linear:
		return Linear(), nil
	case tanh:
		return TanH(), nil
	case sigmoid:
		return Sigmoid(), nil
	case leakyReLU:
		return LeakyReLU(), nil
	default:
		return nil, errors.Errorf("activationByName: illegal Activation "+
			"type %q", name)
	}
}

// ActivationsByName returns the Activations with the given names
func ActivationsByName(names []string) ([]*Activation, error) {
	acts := make([]*Activation, len(names))
	for i, name := range names {
		act, err := ActivationByName(name)
		if err != nil {
			return nil, err
		}
		acts[i] = act
	}
	return acts, nil
}

// Linear returns an identity *Activation
func Linear() *Activation {
	return &Activation{
		activationType: linear,
		f: func(x *G.Node) (*G.Node, error) {
			return x, nil
		},
	}
}

// ReLU returns a ReLU *Activation
func ReLU() *Activation {
	return &Activation{
		activationType: relu,
		f:              G.Rectify,
	}
}

// TanH returns a tanh *Activation
func TanH() *Activation {
	return &Activation{
		activationType: tanh,
		f:              G.Tanh,
	}
}

// Sigmoid returns a sigmoid *Activation
func Sigmoid() *Activation {
	return &Activation{
		activationType: sigmoid,
		f:              G.Sigmoid,
	}
}

// LeakyReLU returns a leaky ReLU *Activation
func LeakyReLU() *Activation {
	return &Activation{
		activationType: leakyReLU,
		f: func(x *G.Node) (*G.Node, error) {
			return G.LeakyRelu(x, leakyReLUAlpha)
		},
	}
}

// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON serialized into configuration files.
//
// A Solver is serialized as a single-key object naming its type:
//
//	{"Adam": {"StepSize": 0.001}}
//
// Fields that are omitted keep their default values.
package solver

import (
	"encoding/json"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

var defaults = map[Type]func() Config{
	Adam:    func() Config { return defaultAdam() },
	Vanilla: func() Config { return &VanillaConfig{StepSize: 0.01, Batch: 1} },
	RMSProp: func() Config { return defaultRMSProp() },
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	// Create returns a new Gorgonia Solver. Each call returns a solver
	// with its own state.
	Create() G.Solver

	// Type returns the type of Solver created by the Config
	Type() Type

	// Validate returns an error if the Config is invalid
	Validate() error
}

// Solver wraps Gorgonia Solver configurations so that they can be JSON
// marshalled and unmarshalled.
type Solver struct {
	Config
}

// New returns a new Solver described by c
func New(c Config) (*Solver, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	return &Solver{Config: c}, nil
}

// Default returns the default Solver, Adam with a step size of 0.001
func Default() *Solver {
	return &Solver{Config: defaultAdam()}
}

// Validate implements the Config interface
func (s *Solver) Validate() error {
	if s == nil || s.Config == nil {
		return errors.New("validate: no solver configured")
	}
	return s.Config.Validate()
}

// MarshalJSON implements the json.Marshaler interface
func (s Solver) MarshalJSON() ([]byte, error) {
	if s.Config == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[Type]Config{s.Type(): s.Config})
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	var m map[Type]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "unmarshalJSON")
	}
	if len(m) != 1 {
		return errors.Errorf("unmarshalJSON: expected exactly one solver "+
			"type\n\twant(1)\n\thave(%v)", len(m))
	}

	for typeName, raw := range m {
		newConfig, ok := defaults[typeName]
		if !ok {
			return errors.Errorf("unmarshalJSON: unknown solver type %q",
				typeName)
		}

		config := newConfig()
		if err := json.Unmarshal(raw, config); err != nil {
			return errors.Wrapf(err, "unmarshalJSON: %v", typeName)
		}
		if err := config.Validate(); err != nil {
			return errors.Wrapf(err, "unmarshalJSON: %v", typeName)
		}
		s.Config = config
	}
	return nil
}

func validateCommon(stepSize float64, batch int) error {
	if stepSize <= 0 {
		return errors.Errorf("validate: step size must be positive"+
			"\n\twant(>0)\n\thave(%v)", stepSize)
	}
	if batch < 1 {
		return errors.Errorf("validate: batch must be positive"+
			"\n\twant(>0)\n\thave(%v)", batch)
	}
	return nil
}

// Package initwfn implements functionality to wrap Gorgonia InitWFn
// so that they can be JSON serialized into configuration files.
//
// An InitWFn is serialized as a single-key object naming its type:
//
//	{"GlorotU": {"Gain": 1.0}}
package initwfn

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	HeU      Type = "HeU"
	HeN      Type = "HeN"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Uniform  Type = "Uniform"
	Gaussian Type = "Gaussian"
)

// defaults returns the default Config of each Type. Decoded configs
// start from these values.
var defaults = map[Type]func() Config{
	GlorotU:  func() Config { return &GlorotUConfig{Gain: 1} },
	GlorotN:  func() Config { return &GlorotNConfig{Gain: 1} },
	HeU:      func() Config { return &HeUConfig{Gain: 1} },
	HeN:      func() Config { return &HeNConfig{Gain: 1} },
	Zeroes:   func() Config { return &ZeroesConfig{} },
	Ones:     func() Config { return &OnesConfig{} },
	Uniform:  func() Config { return &UniformConfig{Low: -0.1, High: 0.1} },
	Gaussian: func() Config { return &GaussianConfig{Mean: 0, StdDev: 0.1} },
}

// Config implements a Gorgonia InitWFn configuration and can be used to
// create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes
	Create() G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type
}

// InitWFn wraps Gorgonia InitWFn so that they can be JSON marshalled and
// unmarshalled.
type InitWFn struct {
	Config
}

// New returns a new InitWFn described by c
func New(c Config) *InitWFn {
	return &InitWFn{Config: c}
}

// Default returns the default weight initializer, Glorot uniform with
// unit gain.
func Default() *InitWFn {
	return New(defaults[GlorotU]())
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (i *InitWFn) InitWFn() G.InitWFn {
	if i == nil || i.Config == nil {
		return Default().Create()
	}
	return i.Config.Create()
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	if i == nil || i.Config == nil {
		return "{<nil> InitWFn}"
	}
	return fmt.Sprintf("{%v InitWFn: %+v}", i.Type(), i.Config)
}

// MarshalJSON implements the json.Marshaler interface
func (i InitWFn) MarshalJSON() ([]byte, error) {
	if i.Config == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[Type]Config{i.Type(): i.Config})
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (i *InitWFn) UnmarshalJSON(data []byte) error {
	var m map[Type]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "unmarshalJSON")
	}
	if len(m) != 1 {
		return errors.Errorf("unmarshalJSON: expected exactly one "+
			"initializer type\n\twant(1)\n\thave(%v)", len(m))
	}

	for typeName, raw := range m {
		newConfig, ok := defaults[typeName]
		if !ok {
			return errors.Errorf("unmarshalJSON: unknown initializer "+
				"type %q", typeName)
		}

		config := newConfig()
		if err := json.Unmarshal(raw, config); err != nil {
			return errors.Wrapf(err, "unmarshalJSON: %v", typeName)
		}
		i.Config = config
	}
	return nil
}

// Package modelmanager implements model managers, which assemble the
// networks, trainer and serving module of a model from its
// configuration and the normalization data of its feature slots.
package modelmanager

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/serving"
	"github.com/samuelfneumann/offlineq/trainer"
)

// ErrTrainerNotBuilt is returned when a serving module is requested
// before the trainer, and so the networks, have been built
var ErrTrainerNotBuilt = errors.New("trainer has not been built")

// ModelManager assembles the trainer and serving module of a model
type ModelManager interface {
	// NormalizationKeys returns the slots whose normalization data the
	// model needs
	NormalizationKeys() []string

	// BuildTrainer builds the model's networks and returns a trainer
	// for them. If rewardOptions is nil, the default options are used.
	BuildTrainer(normMap map[string]normalization.Data, useGPU bool,
		rewardOptions *RewardOptions) (trainer.Trainer, error)

	// BuildServingModule wraps the networks built by BuildTrainer so
	// that they score raw features
	BuildServingModule(
		normMap map[string]normalization.Data) (serving.Module, error)

	// SaveServingModule writes a snapshot from which the serving module
	// can be rebuilt with LoadServingModule
	SaveServingModule(w io.Writer, normMap map[string]normalization.Data) error

	Validate() error
}

// Type names a ModelManager variant
type Type string

// Available ModelManager variants
const (
	ParametricDQNType Type = "ParametricDQN"
	DiscreteDQNType   Type = "DiscreteDQN"
)

var defaults = map[Type]func() ModelManager{
	ParametricDQNType: func() ModelManager { return NewParametricDQN() },
	DiscreteDQNType:   func() ModelManager { return NewDiscreteDQN() },
}

// Union holds exactly one ModelManager variant so that it can be JSON
// marshalled and unmarshalled
type Union struct {
	ModelManager
}

// Value returns the model manager held by the union
func (u Union) Value() (ModelManager, error) {
	if u.ModelManager == nil {
		return nil, errors.New("value: no model manager set")
	}
	return u.ModelManager, nil
}

// Type returns the variant held by the union
func (u Union) Type() (Type, error) {
	switch u.ModelManager.(type) {
	case *ParametricDQN:
		return ParametricDQNType, nil
	case *DiscreteDQN:
		return DiscreteDQNType, nil
	default:
		return "", errors.Errorf("type: unknown model manager %T",
			u.ModelManager)
	}
}

// MarshalJSON implements the json.Marshaler interface
func (u Union) MarshalJSON() ([]byte, error) {
	t, err := u.Type()
	if err != nil {
		return nil, errors.Wrap(err, "marshalJSON")
	}
	return json.Marshal(map[Type]ModelManager{t: u.ModelManager})
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (u *Union) UnmarshalJSON(data []byte) error {
	var m map[Type]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "unmarshalJSON")
	}
	if len(m) != 1 {
		return errors.Errorf("unmarshalJSON: expected exactly one model "+
			"manager\n\twant(1)\n\thave(%v)", len(m))
	}

	for typeName, raw := range m {
		newManager, ok := defaults[typeName]
		if !ok {
			return errors.Errorf("unmarshalJSON: unknown model manager %q",
				typeName)
		}

		manager := newManager()
		if err := json.Unmarshal(raw, manager); err != nil {
			return errors.Wrapf(err, "unmarshalJSON: %v", typeName)
		}
		if err := manager.Validate(); err != nil {
			return errors.Wrapf(err, "unmarshalJSON: %v", typeName)
		}
		u.ModelManager = manager
	}
	return nil
}

package modelmanager

import (
	"encoding/gob"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/features"
	"github.com/samuelfneumann/offlineq/netbuilder"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/serving"
)

// snapshot is everything needed to rebuild a serving module without
// the trainer
type snapshot struct {
	Type Type

	// NetBuilder is the JSON encoding of the net builder union
	NetBuilder    []byte
	Normalization map[string]normalization.Data
	FeatureConfig *features.ModelFeatureConfig
	Actions       []string
	Policy        serving.Policy
	Weights       []network.Weight
}

func writeSnapshot(w io.Writer, s snapshot) error {
	return gob.NewEncoder(w).Encode(s)
}

func readSnapshot(r io.Reader) (snapshot, error) {
	var s snapshot
	err := gob.NewDecoder(r).Decode(&s)
	return s, err
}

// selectSlots returns the normalization data of each slot in keys
func selectSlots(normMap map[string]normalization.Data,
	keys []string) (map[string]normalization.Data, error) {
	selected := make(map[string]normalization.Data, len(keys))
	for _, key := range keys {
		data, err := normalization.Lookup(normMap, key)
		if err != nil {
			return nil, err
		}
		selected[key] = data
	}
	return selected, nil
}

// LoadServingModule rebuilds a serving module written by a
// ModelManager's SaveServingModule. The module is either a
// *serving.ParametricPredictor or a *serving.DiscretePredictor.
func LoadServingModule(r io.Reader) (serving.Module, error) {
	s, err := readSnapshot(r)
	if err != nil {
		return nil, errors.Wrap(err, "loadServingModule")
	}

	switch s.Type {
	case ParametricDQNType:
		p, err := loadParametric(s)
		if err != nil {
			return nil, errors.Wrap(err, "loadServingModule")
		}
		return p, nil

	case DiscreteDQNType:
		p, err := loadDiscrete(s)
		if err != nil {
			return nil, errors.Wrap(err, "loadServingModule")
		}
		return p, nil

	default:
		return nil, errors.Errorf("loadServingModule: unknown model "+
			"manager %q", s.Type)
	}
}

// LoadParametricServingModule rebuilds a serving module written by
// ParametricDQN.SaveServingModule
func LoadParametricServingModule(
	r io.Reader) (*serving.ParametricPredictor, error) {
	s, err := readSnapshot(r)
	if err != nil {
		return nil, errors.Wrap(err, "loadParametricServingModule")
	}
	if s.Type != ParametricDQNType {
		return nil, errors.Errorf("loadParametricServingModule: invalid "+
			"snapshot type\n\twant(%v)\n\thave(%v)", ParametricDQNType, s.Type)
	}
	p, err := loadParametric(s)
	return p, errors.Wrap(err, "loadParametricServingModule")
}

// LoadDiscreteServingModule rebuilds a serving module written by
// DiscreteDQN.SaveServingModule
func LoadDiscreteServingModule(
	r io.Reader) (*serving.DiscretePredictor, error) {
	s, err := readSnapshot(r)
	if err != nil {
		return nil, errors.Wrap(err, "loadDiscreteServingModule")
	}
	if s.Type != DiscreteDQNType {
		return nil, errors.Errorf("loadDiscreteServingModule: invalid "+
			"snapshot type\n\twant(%v)\n\thave(%v)", DiscreteDQNType, s.Type)
	}
	p, err := loadDiscrete(s)
	return p, errors.Wrap(err, "loadDiscreteServingModule")
}

func loadParametric(s snapshot) (*serving.ParametricPredictor, error) {
	var union netbuilder.ParametricDQNNetBuilderUnion
	if err := json.Unmarshal(s.NetBuilder, &union); err != nil {
		return nil, errors.Wrap(err, "net builder")
	}

	m := &ParametricDQN{NetBuilder: union}
	stateNorm, err := normalization.Lookup(s.Normalization,
		normalization.State)
	if err != nil {
		return nil, err
	}
	actionNorm, err := normalization.Lookup(s.Normalization,
		normalization.Action)
	if err != nil {
		return nil, err
	}

	builder, err := union.Value()
	if err != nil {
		return nil, err
	}
	q, err := builder.BuildQNetwork(stateNorm, actionNorm, 1)
	if err != nil {
		return nil, err
	}
	if err := q.SetWeights(s.Weights); err != nil {
		return nil, err
	}

	m.q = q
	return m.buildServingModule(s.Normalization)
}

func loadDiscrete(s snapshot) (*serving.DiscretePredictor, error) {
	var union netbuilder.DiscreteDQNNetBuilderUnion
	if err := json.Unmarshal(s.NetBuilder, &union); err != nil {
		return nil, errors.Wrap(err, "net builder")
	}

	m := &DiscreteDQN{NetBuilder: union, StateFeatureConfig: s.FeatureConfig}
	m.TrainerParam.Actions = s.Actions
	m.TrainerParam.RL.SoftmaxPolicy = s.Policy.Softmax
	m.TrainerParam.RL.Temperature = s.Policy.Temperature

	stateNorm, err := normalization.Lookup(s.Normalization,
		normalization.State)
	if err != nil {
		return nil, err
	}
	builder, err := union.Value()
	if err != nil {
		return nil, err
	}
	q, err := builder.BuildQNetwork(s.FeatureConfig, stateNorm,
		len(s.Actions))
	if err != nil {
		return nil, err
	}
	if err := q.SetWeights(s.Weights); err != nil {
		return nil, err
	}

	m.q = q
	return m.buildServingModule(s.Normalization)
}

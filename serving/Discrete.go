package serving

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/features"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/utils/floatutils"
	"gonum.org/v1/gonum/floats"
)

// Policy determines how a DiscretePredictor selects actions
type Policy struct {
	// Softmax samples actions from a softmax over their values.
	// Otherwise the greedy action is selected.
	Softmax     bool
	Temperature float64
}

// DiscretePredictor scores the discrete actions of a state with a
// discrete Q network
type DiscretePredictor struct {
	q        *network.DiscreteQNetwork
	state    *normalization.Preprocessor
	features *features.ModelFeatureConfig
	actions  []string
	policy   Policy
	eval     *network.DiscreteEvaluator
}

// NewDiscretePredictor returns a new greedy DiscretePredictor. The
// featureConfig may be nil if the network has no id-list features.
func NewDiscretePredictor(q *network.DiscreteQNetwork,
	featureConfig *features.ModelFeatureConfig, stateNorm normalization.Data,
	actions []string) (*DiscretePredictor, error) {
	state, err := normalization.NewPreprocessor(
		stateNorm.DenseNormalizationParameters)
	if err != nil {
		return nil, errors.Wrap(err, "newDiscretePredictor")
	}
	if state.Width() != q.StateDim() {
		return nil, errors.Errorf("newDiscretePredictor: normalization "+
			"does not match network inputs\n\twant(%d)\n\thave(%d)",
			q.StateDim(), state.Width())
	}
	if len(actions) != q.OutputDim() {
		return nil, errors.Errorf("newDiscretePredictor: invalid number of "+
			"actions\n\twant(%d)\n\thave(%d)", q.OutputDim(), len(actions))
	}

	if featureConfig == nil {
		featureConfig = &features.ModelFeatureConfig{}
	}
	vocabs := q.Config().VocabSizes
	if featureConfig.NumIDListFeatures() != len(vocabs) {
		return nil, errors.Errorf("newDiscretePredictor: invalid number of "+
			"id-list features\n\twant(%d)\n\thave(%d)", len(vocabs),
			featureConfig.NumIDListFeatures())
	}

	return &DiscretePredictor{
		q:        q,
		state:    state,
		features: featureConfig,
		actions:  append([]string(nil), actions...),
		eval:     network.NewDiscreteEvaluator(q),
	}, nil
}

// SetPolicy sets how actions are selected
func (d *DiscretePredictor) SetPolicy(p Policy) error {
	if p.Softmax && p.Temperature <= 0 {
		return errors.Errorf("setPolicy: temperature must be positive"+
			"\n\twant(> 0)\n\thave(%v)", p.Temperature)
	}
	d.policy = p
	return nil
}

// Q returns the network used for predictions
func (d *DiscretePredictor) Q() *network.DiscreteQNetwork {
	return d.q
}

// Actions returns the names of the actions, in network output order
func (d *DiscretePredictor) Actions() []string {
	return d.actions
}

// values returns the value of each action, in network output order
func (d *DiscretePredictor) values(state map[int]float64,
	idLists map[int][]int64) ([]float64, error) {
	bags, err := d.features.Bags(idLists)
	if err != nil {
		return nil, err
	}
	return d.eval.Evaluate(1, d.state.Transform(state), bags)
}

// Predict returns the value of each action
func (d *DiscretePredictor) Predict(state map[int]float64,
	idLists map[int][]int64) (map[string]float64, error) {
	values, err := d.values(state, idLists)
	if err != nil {
		return nil, errors.Wrap(err, "predict")
	}

	out := make(map[string]float64, len(d.actions))
	for i, a := range d.actions {
		out[a] = values[i]
	}
	return out, nil
}

// SelectAction selects an action according to the predictor's policy
func (d *DiscretePredictor) SelectAction(state map[int]float64,
	idLists map[int][]int64, rng *rand.Rand) (string, error) {
	values, err := d.values(state, idLists)
	if err != nil {
		return "", errors.Wrap(err, "selectAction")
	}

	if !d.policy.Softmax {
		return d.actions[floats.MaxIdx(values)], nil
	}

	probs := floatutils.Softmax(values, d.policy.Temperature)
	u := rng.Float64()
	for i, p := range probs {
		if u < p {
			return d.actions[i], nil
		}
		u -= p
	}
	return d.actions[len(d.actions)-1], nil
}

// Close releases the resources of the predictor
func (d *DiscretePredictor) Close() error {
	return d.eval.Close()
}

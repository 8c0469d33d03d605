// Package serving implements predictors that score raw, unnormalized
// features with a trained Q network.
package serving

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"gonum.org/v1/gonum/floats"
)

// ParametricPredictor scores candidate actions of a state with a
// parametric Q network
type ParametricPredictor struct {
	q      *network.ParametricQNetwork
	state  *normalization.Preprocessor
	action *normalization.Preprocessor
	eval   *network.ParametricEvaluator
}

// NewParametricPredictor returns a new ParametricPredictor
func NewParametricPredictor(q *network.ParametricQNetwork, stateNorm,
	actionNorm normalization.Data) (*ParametricPredictor, error) {
	state, err := normalization.NewPreprocessor(
		stateNorm.DenseNormalizationParameters)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricPredictor: state")
	}
	action, err := normalization.NewPreprocessor(
		actionNorm.DenseNormalizationParameters)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricPredictor: action")
	}

	if state.Width() != q.StateDim() || action.Width() != q.ActionDim() {
		return nil, errors.Errorf("newParametricPredictor: normalization "+
			"does not match network inputs\n\twant(%d, %d)\n\thave(%d, %d)",
			q.StateDim(), q.ActionDim(), state.Width(), action.Width())
	}

	return &ParametricPredictor{
		q:      q,
		state:  state,
		action: action,
		eval:   network.NewParametricEvaluator(q),
	}, nil
}

// Q returns the network used for predictions
func (p *ParametricPredictor) Q() *network.ParametricQNetwork {
	return p.q
}

// Predict returns the first output of the network for the state paired
// with each candidate action
func (p *ParametricPredictor) Predict(state map[int]float64,
	candidates []map[int]float64) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, errors.New("predict: no candidate actions")
	}

	row := p.state.Transform(state)
	states := make([]float64, 0, len(candidates)*len(row))
	for range candidates {
		states = append(states, row...)
	}
	actions := p.action.TransformBatch(candidates)

	out, err := p.eval.Evaluate(states, actions)
	if err != nil {
		return nil, errors.Wrap(err, "predict")
	}

	outputs := p.q.OutputDim()
	values := make([]float64, len(candidates))
	for i := range values {
		values[i] = out[i*outputs]
	}
	return values, nil
}

// Best returns the index and value of the highest scoring candidate.
// Ties are broken by the lowest index.
func (p *ParametricPredictor) Best(state map[int]float64,
	candidates []map[int]float64) (int, float64, error) {
	values, err := p.Predict(state, candidates)
	if err != nil {
		return 0, 0, errors.Wrap(err, "best")
	}
	i := floats.MaxIdx(values)
	return i, values[i], nil
}

// Close releases the resources of the predictor
func (p *ParametricPredictor) Close() error {
	return p.eval.Close()
}

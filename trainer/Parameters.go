package trainer

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/rl"
	"github.com/samuelfneumann/offlineq/solver"
)

// DefaultMinibatchSize is the number of transitions in a minibatch
// unless configured otherwise
const DefaultMinibatchSize = 1024

// ParametricDQNTrainerParameters configures a ParametricDQNTrainer
type ParametricDQNTrainerParameters struct {
	RL                 rl.Parameters  `json:"rl"`
	DoubleQLearning    bool           `json:"double_q_learning"`
	MinibatchSize      int            `json:"minibatch_size"`
	MinibatchesPerStep int            `json:"minibatches_per_step"`
	Optimizer          *solver.Solver `json:"optimizer"`
}

// DefaultParametricDQNTrainerParameters returns the default
// ParametricDQNTrainerParameters
func DefaultParametricDQNTrainerParameters() ParametricDQNTrainerParameters {
	return ParametricDQNTrainerParameters{
		RL:                 rl.DefaultParameters(),
		DoubleQLearning:    true,
		MinibatchSize:      DefaultMinibatchSize,
		MinibatchesPerStep: 1,
		Optimizer:          solver.Default(),
	}
}

// Validate checks the ParametricDQNTrainerParameters for errors
func (p ParametricDQNTrainerParameters) Validate() error {
	if err := p.RL.Validate(); err != nil {
		return errors.Wrap(err, "validate: rl")
	}
	return validateCommon(p.MinibatchSize, p.MinibatchesPerStep, p.Optimizer)
}

// DQNTrainerParameters configures a DQNTrainer over a discrete set of
// named actions
type DQNTrainerParameters struct {
	Actions            []string       `json:"actions"`
	RL                 rl.Parameters  `json:"rl"`
	DoubleQLearning    bool           `json:"double_q_learning"`
	MinibatchSize      int            `json:"minibatch_size"`
	MinibatchesPerStep int            `json:"minibatches_per_step"`
	Optimizer          *solver.Solver `json:"optimizer"`
}

// DefaultDQNTrainerParameters returns the default DQNTrainerParameters.
// Actions must still be set.
func DefaultDQNTrainerParameters() DQNTrainerParameters {
	return DQNTrainerParameters{
		RL:                 rl.DefaultParameters(),
		DoubleQLearning:    true,
		MinibatchSize:      DefaultMinibatchSize,
		MinibatchesPerStep: 1,
		Optimizer:          solver.Default(),
	}
}

// Validate checks the DQNTrainerParameters for errors
func (p DQNTrainerParameters) Validate() error {
	if len(p.Actions) == 0 {
		return errors.New("validate: no actions")
	}
	seen := make(map[string]bool, len(p.Actions))
	for _, a := range p.Actions {
		if seen[a] {
			return errors.Errorf("validate: duplicate action %q", a)
		}
		seen[a] = true
	}
	for a := range p.RL.RewardBoost {
		if !seen[a] {
			return errors.Errorf("validate: reward boost for unknown "+
				"action %q", a)
		}
	}

	if err := p.RL.Validate(); err != nil {
		return errors.Wrap(err, "validate: rl")
	}
	return validateCommon(p.MinibatchSize, p.MinibatchesPerStep, p.Optimizer)
}

func validateCommon(minibatchSize, minibatchesPerStep int,
	optimizer *solver.Solver) error {
	if minibatchSize <= 0 {
		return errors.Errorf("validate: invalid minibatch size"+
			"\n\twant(> 0)\n\thave(%d)", minibatchSize)
	}
	if minibatchesPerStep <= 0 {
		return errors.Errorf("validate: invalid minibatches per step"+
			"\n\twant(> 0)\n\thave(%d)", minibatchesPerStep)
	}
	if optimizer == nil || optimizer.Config == nil {
		return errors.New("validate: no optimizer")
	}
	return errors.Wrap(optimizer.Validate(), "validate: optimizer")
}

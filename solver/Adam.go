package solver

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// AdamConfig describes a configuration of the Adam solver
type AdamConfig struct {
	StepSize    float64
	Epsilon     float64 // Smoothing factor
	Beta1       float64
	Beta2       float64
	Batch       int
	Clip        float64 // <= 0 if no clipping
	WeightDecay float64 // L2 regularization, <= 0 if none
}

func defaultAdam() *AdamConfig {
	return &AdamConfig{
		StepSize: 0.001,
		Epsilon:  1e-8,
		Beta1:    0.9,
		Beta2:    0.999,
		Batch:    1,
	}
}

// NewDefaultAdam returns a new Adam Solver with default hyperparameters
func NewDefaultAdam(stepSize float64) (*Solver, error) {
	adam := defaultAdam()
	adam.StepSize = stepSize
	return New(adam)
}

// Type returns the Adam solver Type
func (a *AdamConfig) Type() Type { return Adam }

// Validate checks the AdamConfig for errors
func (a *AdamConfig) Validate() error {
	if err := validateCommon(a.StepSize, a.Batch); err != nil {
		return err
	}
	if a.Beta1 < 0 || a.Beta1 >= 1 || a.Beta2 < 0 || a.Beta2 >= 1 {
		return errors.Errorf("validate: betas must be in [0, 1), got "+
			"(%v, %v)", a.Beta1, a.Beta2)
	}
	return nil
}

// Create returns a new Gorgonia Adam Solver as described by the
// AdamConfig
func (a *AdamConfig) Create() G.Solver {
	opts := []G.SolverOpt{
		G.WithLearnRate(a.StepSize),
		G.WithEps(a.Epsilon),
		G.WithBeta1(a.Beta1),
		G.WithBeta2(a.Beta2),
		G.WithBatchSize(float64(a.Batch)),
	}
	if a.Clip > 0 {
		opts = append(opts, G.WithClip(a.Clip))
	}
	if a.WeightDecay > 0 {
		opts = append(opts, G.WithL2Reg(a.WeightDecay))
	}
	return G.NewAdamSolver(opts...)
}

package solver

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// RMSPropConfig implements a specific configuration of the RMSProp
// solver
type RMSPropConfig struct {
	StepSize float64
	Epsilon  float64
	Rho      float64
	Batch    int
	Clip     float64 // <= 0 if no clipping
}

func defaultRMSProp() *RMSPropConfig {
	return &RMSPropConfig{
		StepSize: 0.001,
		Epsilon:  1e-8,
		Rho:      0.999,
		Batch:    1,
	}
}

// Type returns the RMSProp solver Type
func (r *RMSPropConfig) Type() Type { return RMSProp }

// Validate checks the RMSPropConfig for errors
func (r *RMSPropConfig) Validate() error {
	if err := validateCommon(r.StepSize, r.Batch); err != nil {
		return err
	}
	if r.Rho <= 0 || r.Rho >= 1 {
		return errors.Errorf("validate: rho must be in (0, 1)"+
			"\n\twant((0, 1))\n\thave(%v)", r.Rho)
	}
	return nil
}

// Create returns a new Gorgonia RMSProp Solver as described by the
// RMSPropConfig
func (r *RMSPropConfig) Create() G.Solver {
	opts := []G.SolverOpt{
		G.WithLearnRate(r.StepSize),
		G.WithEps(r.Epsilon),
		G.WithRho(r.Rho),
		G.WithBatchSize(float64(r.Batch)),
	}
	if r.Clip > 0 {
		opts = append(opts, G.WithClip(r.Clip))
	}
	return G.NewRMSPropSolver(opts...)
}

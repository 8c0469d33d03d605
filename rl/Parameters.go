// Package rl holds the reinforcement learning parameters shared by all
// trainers.
package rl

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/loss"
)

// Parameters configures the reinforcement learning update
type Parameters struct {
	Gamma            float64 `json:"gamma"`
	Epsilon          float64 `json:"epsilon"`
	TargetUpdateRate float64 `json:"target_update_rate"`

	// MaxQLearning uses the maximum value over the possible next
	// actions as the bootstrap target. Otherwise the value of the logged
	// next action is used (SARSA).
	MaxQLearning bool `json:"maxq_learning"`

	// RewardBoost is added to the reward of transitions taking the
	// named discrete action
	RewardBoost map[string]float64 `json:"reward_boost,omitempty"`

	Temperature   float64 `json:"temperature"`
	SoftmaxPolicy bool    `json:"softmax_policy"`

	// UseSeqNumDiffAsTimeDiff discounts by gamma^(timeDiff/unit)
	// instead of gamma
	UseSeqNumDiffAsTimeDiff bool    `json:"use_seq_num_diff_as_time_diff"`
	TimeDiffUnitLength      float64 `json:"time_diff_unit_length"`

	QNetworkLoss loss.Type `json:"q_network_loss"`
}

// DefaultParameters returns the default Parameters
func DefaultParameters() Parameters {
	return Parameters{
		Gamma:              0.9,
		Epsilon:            0.1,
		TargetUpdateRate:   0.001,
		MaxQLearning:       true,
		Temperature:        0.01,
		TimeDiffUnitLength: 1,
		QNetworkLoss:       loss.MSE,
	}
}

// Validate checks the Parameters for errors
func (p Parameters) Validate() error {
	if p.Gamma < 0 || p.Gamma > 1 {
		return errors.Errorf("validate: gamma must be in [0, 1]"+
			"\n\twant([0, 1])\n\thave(%v)", p.Gamma)
	}
	if p.Epsilon < 0 || p.Epsilon > 1 {
		return errors.Errorf("validate: epsilon must be in [0, 1]"+
			"\n\twant([0, 1])\n\thave(%v)", p.Epsilon)
	}
	if p.TargetUpdateRate <= 0 || p.TargetUpdateRate > 1 {
		return errors.Errorf("validate: target update rate must be in "+
			"(0, 1]\n\twant((0, 1])\n\thave(%v)", p.TargetUpdateRate)
	}
	if p.Temperature <= 0 {
		return errors.Errorf("validate: temperature must be positive"+
			"\n\twant(> 0)\n\thave(%v)", p.Temperature)
	}
	if p.TimeDiffUnitLength <= 0 {
		return errors.Errorf("validate: time diff unit length must be "+
			"positive\n\twant(> 0)\n\thave(%v)", p.TimeDiffUnitLength)
	}
	if !loss.Valid(p.QNetworkLoss) {
		return errors.Errorf("validate: unknown q-network loss %q",
			p.QNetworkLoss)
	}
	return nil
}

// Discount returns the discount applied to the bootstrap value of a
// transition spanning timeDiff. A timeDiff <= 0, as for transitions
// logged without one, counts as a single step.
func (p Parameters) Discount(timeDiff int) float64 {
	if !p.UseSeqNumDiffAsTimeDiff {
		return p.Gamma
	}
	if timeDiff <= 0 {
		timeDiff = 1
	}
	return math.Pow(p.Gamma, float64(timeDiff)/p.TimeDiffUnitLength)
}

// Boost returns the reward boost of a discrete action
func (p Parameters) Boost(action string) float64 {
	return p.RewardBoost[action]
}

package modelmanager

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// RewardOptions describes how rewards and metrics are scored
type RewardOptions struct {
	// CustomRewardExpression is recorded with the model but not
	// evaluated: rewards are read from the logged transitions
	CustomRewardExpression string `json:"custom_reward_expression,omitempty"`

	// MetricRewardValues weighs each named metric. Every named metric
	// is predicted by the reward network.
	MetricRewardValues map[string]float64 `json:"metric_reward_values,omitempty"`
}

// MetricsToScore returns the names of the metrics predicted by the
// reward network, in output order
func MetricsToScore(metricRewardValues map[string]float64) []string {
	metrics := maps.Keys(metricRewardValues)
	slices.Sort(metrics)
	return metrics
}

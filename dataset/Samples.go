package dataset

// Selector selects which parts of a transition contribute samples
type Selector int

// Available selectors
const (
	// StateFeatures selects dense state and next state features
	StateFeatures Selector = iota

	// ActionFeatures selects dense action, next action, and possible
	// next action features
	ActionFeatures
)

// FeatureSamples gathers the values each dense feature takes over
// transitions, keyed by feature id. The result can be used to identify
// normalization parameters.
func FeatureSamples(transitions []Transition,
	selector Selector) map[int][]float64 {
	samples := make(map[int][]float64)
	add := func(features map[int]float64) {
		for id, value := range features {
			samples[id] = append(samples[id], value)
		}
	}

	for _, t := range transitions {
		switch selector {
		case StateFeatures:
			add(t.State)
			add(t.NextState)

		case ActionFeatures:
			add(t.Action)
			add(t.NextAction)
			for _, a := range t.PossibleNextActions {
				add(a)
			}
		}
	}
	return samples
}

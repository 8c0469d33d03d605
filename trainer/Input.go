package trainer

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/features"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/rl"
)

// ParametricDQNInput is a batch of preprocessed transitions with
// parametric actions. All matrices are row-major.
type ParametricDQNInput struct {
	Rows int

	State      []float64 // [Rows, stateDim]
	Action     []float64 // [Rows, actionDim]
	NextState  []float64 // [Rows, stateDim]
	NextAction []float64 // [Rows, actionDim]

	// Possible next actions are padded to MaxPossibleActions per row.
	// PossibleNextMask is 1 for real actions and 0 for padding.
	MaxPossibleActions  int
	PossibleNextActions []float64 // [Rows, MaxPossibleActions, actionDim]
	PossibleNextMask    []float64 // [Rows, MaxPossibleActions]

	Reward      []float64
	NotTerminal []float64
	Discount    []float64

	// RewardTargets holds the reward followed by each metric
	RewardTargets []float64 // [Rows, 1 + len(metrics)]
}

// ParametricBatcher converts transitions with parametric actions into
// a ParametricDQNInput
type ParametricBatcher struct {
	state   *normalization.Preprocessor
	action  *normalization.Preprocessor
	metrics []string
	rl      rl.Parameters
}

// NewParametricBatcher returns a new ParametricBatcher. The metrics, in
// order, make up the reward network targets after the reward.
func NewParametricBatcher(stateNorm, actionNorm normalization.Data,
	metrics []string, params rl.Parameters) (*ParametricBatcher, error) {
	state, err := normalization.NewPreprocessor(
		stateNorm.DenseNormalizationParameters)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricBatcher: state")
	}
	action, err := normalization.NewPreprocessor(
		actionNorm.DenseNormalizationParameters)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricBatcher: action")
	}
	return &ParametricBatcher{
		state:   state,
		action:  action,
		metrics: append([]string(nil), metrics...),
		rl:      params,
	}, nil
}

// StateDim returns the width of a preprocessed state
func (b *ParametricBatcher) StateDim() int { return b.state.Width() }

// ActionDim returns the width of a preprocessed action
func (b *ParametricBatcher) ActionDim() int { return b.action.Width() }

// RewardDim returns the width of a row of reward network targets
func (b *ParametricBatcher) RewardDim() int { return len(b.metrics) + 1 }

// Batch preprocesses transitions
func (b *ParametricBatcher) Batch(
	transitions []dataset.Transition) (*ParametricDQNInput, error) {
	rows := len(transitions)
	if rows == 0 {
		return nil, errors.New("batch: no transitions")
	}

	maxActions := 0
	for _, t := range transitions {
		if len(t.PossibleNextActions) > maxActions {
			maxActions = len(t.PossibleNextActions)
		}
	}

	stateDim, actionDim := b.StateDim(), b.ActionDim()
	in := &ParametricDQNInput{
		Rows:                rows,
		State:               make([]float64, rows*stateDim),
		Action:              make([]float64, rows*actionDim),
		NextState:           make([]float64, rows*stateDim),
		NextAction:          make([]float64, rows*actionDim),
		MaxPossibleActions:  maxActions,
		PossibleNextActions: make([]float64, rows*maxActions*actionDim),
		PossibleNextMask:    make([]float64, rows*maxActions),
		Reward:              make([]float64, rows),
		NotTerminal:         make([]float64, rows),
		Discount:            make([]float64, rows),
		RewardTargets:       make([]float64, rows*b.RewardDim()),
	}

	for i, t := range transitions {
		copy(in.State[i*stateDim:], b.state.Transform(t.State))
		copy(in.Action[i*actionDim:], b.action.Transform(t.Action))
		copy(in.NextState[i*stateDim:], b.state.Transform(t.NextState))
		copy(in.NextAction[i*actionDim:], b.action.Transform(t.NextAction))

		for j, a := range t.PossibleNextActions {
			offset := (i*maxActions + j) * actionDim
			copy(in.PossibleNextActions[offset:], b.action.Transform(a))
			in.PossibleNextMask[i*maxActions+j] = 1
		}

		in.Reward[i] = t.Reward
		if t.NotTerminal {
			in.NotTerminal[i] = 1
		}
		in.Discount[i] = b.rl.Discount(t.TimeDiff)

		targets := in.RewardTargets[i*b.RewardDim() : (i+1)*b.RewardDim()]
		targets[0] = t.Reward
		for j, metric := range b.metrics {
			value, ok := t.Metrics[metric]
			if !ok {
				return nil, errors.Errorf("batch: transition %d has no "+
					"value for metric %q", i, metric)
			}
			targets[j+1] = value
		}
	}

	return in, nil
}

// DiscreteDQNInput is a batch of preprocessed transitions with discrete
// actions. All matrices are row-major.
type DiscreteDQNInput struct {
	Rows int

	State     []float64   // [Rows, stateDim]
	Bags      [][]float64 // per id-list feature, [Rows, vocab]
	NextState []float64
	NextBags  [][]float64

	Action          []float64 // one-hot [Rows, numActions]
	NextActionIndex []int     // -1 when the next action is unknown

	// PossibleNextMask is 1 for actions possible in the next state
	PossibleNextMask []float64 // [Rows, numActions]

	Reward      []float64 // including any reward boost
	NotTerminal []float64
	Discount    []float64
}

// DiscreteBatcher converts transitions with named discrete actions into
// a DiscreteDQNInput
type DiscreteBatcher struct {
	state    *normalization.Preprocessor
	features *features.ModelFeatureConfig
	actions  []string
	index    map[string]int
	rl       rl.Parameters
}

// NewDiscreteBatcher returns a new DiscreteBatcher. The featureConfig
// may be nil if the model uses no id-list features.
func NewDiscreteBatcher(stateNorm normalization.Data,
	featureConfig *features.ModelFeatureConfig, actions []string,
	params rl.Parameters) (*DiscreteBatcher, error) {
	state, err := normalization.NewPreprocessor(
		stateNorm.DenseNormalizationParameters)
	if err != nil {
		return nil, errors.Wrap(err, "newDiscreteBatcher: state")
	}
	if len(actions) == 0 {
		return nil, errors.New("newDiscreteBatcher: no actions")
	}
	if featureConfig == nil {
		featureConfig = &features.ModelFeatureConfig{}
	}

	index := make(map[string]int, len(actions))
	for i, a := range actions {
		index[a] = i
	}
	return &DiscreteBatcher{
		state:    state,
		features: featureConfig,
		actions:  append([]string(nil), actions...),
		index:    index,
		rl:       params,
	}, nil
}

// StateDim returns the width of a preprocessed dense state
func (b *DiscreteBatcher) StateDim() int { return b.state.Width() }

// NumActions returns the number of discrete actions
func (b *DiscreteBatcher) NumActions() int { return len(b.actions) }

// Batch preprocesses transitions. Transitions without possible next
// action names may take any action in the next state.
func (b *DiscreteBatcher) Batch(
	transitions []dataset.Transition) (*DiscreteDQNInput, error) {
	rows := len(transitions)
	if rows == 0 {
		return nil, errors.New("batch: no transitions")
	}

	stateDim, numActions := b.StateDim(), b.NumActions()
	vocabs := b.features.VocabSizes()
	in := &DiscreteDQNInput{
		Rows:             rows,
		State:            make([]float64, rows*stateDim),
		Bags:             makeBags(rows, vocabs),
		NextState:        make([]float64, rows*stateDim),
		NextBags:         makeBags(rows, vocabs),
		Action:           make([]float64, rows*numActions),
		NextActionIndex:  make([]int, rows),
		PossibleNextMask: make([]float64, rows*numActions),
		Reward:           make([]float64, rows),
		NotTerminal:      make([]float64, rows),
		Discount:         make([]float64, rows),
	}

	for i, t := range transitions {
		copy(in.State[i*stateDim:], b.state.Transform(t.State))
		copy(in.NextState[i*stateDim:], b.state.Transform(t.NextState))

		if err := b.fillBags(in.Bags, i, t.StateIDList); err != nil {
			return nil, errors.Wrapf(err, "batch: transition %d", i)
		}
		if err := b.fillBags(in.NextBags, i, t.NextStateIDList); err != nil {
			return nil, errors.Wrapf(err, "batch: transition %d", i)
		}

		action, ok := b.index[t.ActionName]
		if !ok {
			return nil, errors.Errorf("batch: transition %d takes unknown "+
				"action %q", i, t.ActionName)
		}
		in.Action[i*numActions+action] = 1

		in.NextActionIndex[i] = -1
		if next, ok := b.index[t.NextActionName]; ok {
			in.NextActionIndex[i] = next
		}

		mask := in.PossibleNextMask[i*numActions : (i+1)*numActions]
		if len(t.PossibleNextActionNames) == 0 {
			for j := range mask {
				mask[j] = 1
			}
		}
		for _, name := range t.PossibleNextActionNames {
			j, ok := b.index[name]
			if !ok {
				return nil, errors.Errorf("batch: transition %d has "+
					"unknown possible next action %q", i, name)
			}
			mask[j] = 1
		}

		in.Reward[i] = t.Reward + b.rl.Boost(t.ActionName)
		if t.NotTerminal {
			in.NotTerminal[i] = 1
		}
		in.Discount[i] = b.rl.Discount(t.TimeDiff)
	}

	return in, nil
}

// fillBags writes the bags of row i
func (b *DiscreteBatcher) fillBags(dst [][]float64, i int,
	idLists map[int][]int64) error {
	bags, err := b.features.Bags(idLists)
	if err != nil {
		return err
	}
	for f, bag := range bags {
		copy(dst[f][i*len(bag):], bag)
	}
	return nil
}

func makeBags(rows int, vocabs []int) [][]float64 {
	bags := make([][]float64, len(vocabs))
	for i, v := range vocabs {
		bags[i] = make([]float64, rows*v)
	}
	return bags
}

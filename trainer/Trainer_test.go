package trainer

import (
	"strings"
	"testing"

	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/features"
	"github.com/samuelfneumann/offlineq/loss"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/rl"
	"github.com/samuelfneumann/offlineq/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
)

// Identity normalization of state feature 1 and action feature 10
var (
	stateNorm = normalization.NewData(map[int]normalization.Parameters{
		1: {FeatureType: normalization.Continuous, Mean: 0, Stddev: 1},
	})
	actionNorm = normalization.NewData(map[int]normalization.Parameters{
		10: {FeatureType: normalization.DiscreteAction},
	})
)

func parametricParams(t *testing.T, batch int) ParametricDQNTrainerParameters {
	t.Helper()
	params := DefaultParametricDQNTrainerParameters()
	params.MinibatchSize = batch
	opt, err := solver.NewDefaultAdam(0.01)
	require.NoError(t, err)
	params.Optimizer = opt
	return params
}

func onesQ(t *testing.T, outputs int) *network.ParametricQNetwork {
	t.Helper()
	q, err := network.NewParametricQNetwork(network.ParametricConfig{
		StateDim:  1,
		ActionDim: 1,
		OutputDim: outputs,
		InitWFn:   G.Ones(),
	}, 1, false)
	require.NoError(t, err)
	return q
}

func nextTransition(notTerminal bool) dataset.Transition {
	return dataset.Transition{
		State:     map[int]float64{1: 0},
		Action:    map[int]float64{10: 0},
		Reward:    0.5,
		NextState: map[int]float64{1: 1},
		NextAction: map[int]float64{
			10: 2,
		},
		PossibleNextActions: []map[int]float64{{10: 1}, {10: 3}},
		NotTerminal:         notTerminal,
		Metrics:             map[string]float64{"clicks": 2},
	}
}

func TestParametricBatcher(t *testing.T) {
	b, err := NewParametricBatcher(stateNorm, actionNorm, []string{"clicks"},
		rl.DefaultParameters())
	require.NoError(t, err)
	assert.Equal(t, 2, b.RewardDim())

	short := nextTransition(true)
	short.PossibleNextActions = short.PossibleNextActions[:1]
	in, err := b.Batch([]dataset.Transition{nextTransition(true), short})
	require.NoError(t, err)

	assert.Equal(t, 2, in.MaxPossibleActions)
	assert.Equal(t, []float64{1, 3, 1, 0}, in.PossibleNextActions)
	assert.Equal(t, []float64{1, 1, 1, 0}, in.PossibleNextMask)
	assert.Equal(t, []float64{0.5, 2, 0.5, 2}, in.RewardTargets)
	assert.Equal(t, []float64{0.9, 0.9}, in.Discount)

	noMetric := nextTransition(true)
	noMetric.Metrics = nil
	_, err = b.Batch([]dataset.Transition{noMetric})
	assert.Error(t, err)

	_, err = b.Batch(nil)
	assert.Error(t, err)
}

func TestBatcherTimeDiffDiscount(t *testing.T) {
	params := rl.DefaultParameters()
	params.UseSeqNumDiffAsTimeDiff = true
	b, err := NewParametricBatcher(stateNorm, actionNorm, nil, params)
	require.NoError(t, err)

	transitions, err := dataset.ReadJSONL(strings.NewReader(
		`{"state": {"1": 0}, "action": {"10": 0}, "reward": 1, "next_state": {"1": 1}, "not_terminal": true}
{"state": {"1": 0}, "action": {"10": 0}, "reward": 1, "next_state": {"1": 1}, "not_terminal": true, "time_diff": 2}
{"state": {"1": 0}, "action": {"10": 0}, "reward": 1, "next_state": {"1": 1}, "not_terminal": true, "time_diff": -1}
`))
	require.NoError(t, err)

	in, err := b.Batch(transitions)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.9, 0.81, 0.9}, in.Discount, 1e-12)
}

func TestParametricTDTargets(t *testing.T) {
	b, err := NewParametricBatcher(stateNorm, actionNorm, nil,
		rl.DefaultParameters())
	require.NoError(t, err)

	in, err := b.Batch([]dataset.Transition{nextTransition(true),
		nextTransition(false)})
	require.NoError(t, err)

	newTrainer := func(params ParametricDQNTrainerParameters,
		q *network.ParametricQNetwork) *ParametricDQNTrainer {
		tr, err := NewParametricDQNTrainer(q, onesQ(t, 1), nil, params, b)
		require.NoError(t, err)
		t.Cleanup(func() { tr.Close() })
		return tr
	}

	// Q(s, a) = s + a with unit weights, so max over next actions 1 and 3
	// of 1 + a is 4
	params := parametricParams(t, 2)
	params.DoubleQLearning = false
	targets, err := newTrainer(params, onesQ(t, 1)).tdTargets(in)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5 + 0.9*4, 0.5}, targets, 1e-9)

	// The online network prefers action 1, which the target values at 2
	online := onesQ(t, 1)
	w := online.Weights()
	w[0].Data = []float64{1, -1}
	require.NoError(t, online.SetWeights(w))
	params.DoubleQLearning = true
	targets, err = newTrainer(params, online).tdTargets(in)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5 + 0.9*2, 0.5}, targets, 1e-9)

	// SARSA values the logged next action 2 at 3
	params.RL.MaxQLearning = false
	targets, err = newTrainer(params, onesQ(t, 1)).tdTargets(in)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5 + 0.9*3, 0.5}, targets, 1e-9)
}

func TestParametricDQNTrainerLearns(t *testing.T) {
	tests := []struct {
		name    string
		loss    loss.Type
		dropout float64
	}{
		{"MSE", loss.MSE, 0},
		{"Huber", loss.Huber, 0},
		{"HuberDropout", loss.Huber, 0.3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			testParametricDQNTrainerLearns(t, test.loss, test.dropout)
		})
	}
}

func testParametricDQNTrainerLearns(t *testing.T, lossType loss.Type,
	dropout float64) {
	config := network.ParametricConfig{
		StateDim:     1,
		ActionDim:    1,
		OutputDim:    1,
		Sizes:        []int{8},
		Activations:  []*network.Activation{network.TanH()},
		DropoutRatio: dropout,
	}
	q, err := network.NewParametricQNetwork(config, 1, false)
	require.NoError(t, err)
	target, err := q.TargetNetwork()
	require.NoError(t, err)
	config.OutputDim = 2
	reward, err := network.NewParametricQNetwork(config, 1, false)
	require.NoError(t, err)

	b, err := NewParametricBatcher(stateNorm, actionNorm, []string{"clicks"},
		rl.DefaultParameters())
	require.NoError(t, err)

	params := parametricParams(t, 4)
	params.RL.QNetworkLoss = lossType
	tr, err := NewParametricDQNTrainer(q, target, reward, params, b)
	require.NoError(t, err)
	defer tr.Close()

	data := make([]dataset.Transition, 4)
	for i := range data {
		data[i] = nextTransition(false)
		data[i].State[1] = float64(i) / 4
	}

	before, err := tr.Evaluate(data)
	require.NoError(t, err)
	initialTarget := target.Weights()

	var last Report
	for i := 0; i < 300; i++ {
		last, err = tr.Step(data)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, last.Steps)

	after, err := tr.Evaluate(data)
	require.NoError(t, err)
	assert.Less(t, after.TDLoss, before.TDLoss)
	assert.Less(t, after.RewardLoss, before.RewardLoss)
	if dropout == 0 {
		assert.InDelta(t, 0.5, after.MeanQ, 0.1)
	}

	// The target network trails the trained network
	assert.NotEqual(t, initialTarget, target.Weights())
	assert.NotEqual(t, q.Weights(), target.Weights())

	_, err = tr.Step(data[:3])
	assert.Error(t, err)
}

func TestNewParametricDQNTrainerValidates(t *testing.T) {
	b, err := NewParametricBatcher(stateNorm, actionNorm, nil,
		rl.DefaultParameters())
	require.NoError(t, err)

	params := parametricParams(t, 2)
	_, err = NewParametricDQNTrainer(onesQ(t, 2), onesQ(t, 2), nil, params, b)
	assert.Error(t, err)

	_, err = NewParametricDQNTrainer(onesQ(t, 1), onesQ(t, 1), onesQ(t, 3),
		params, b)
	assert.Error(t, err)

	params.MinibatchSize = 0
	_, err = NewParametricDQNTrainer(onesQ(t, 1), onesQ(t, 1), nil, params, b)
	assert.Error(t, err)
}

func discreteSetup(t *testing.T, params DQNTrainerParameters,
	dropout float64) (*DQNTrainer, *network.DiscreteQNetwork) {
	t.Helper()
	fc := &features.ModelFeatureConfig{
		IDListFeatureConfigs: []features.IDListFeatureConfig{
			{Name: "pages", FeatureID: 100, IDMappingName: "page_ids"},
		},
		IDMappingConfig: map[string]features.IDMapping{
			"page_ids": {IDs: []int64{7, 8, 9}},
		},
	}
	b, err := NewDiscreteBatcher(stateNorm, fc, params.Actions, params.RL)
	require.NoError(t, err)

	q, err := network.NewDiscreteQNetwork(network.DiscreteConfig{
		StateDim:     1,
		VocabSizes:   fc.VocabSizes(),
		EmbeddingDim: 2,
		OutputDim:    len(params.Actions),
		Sizes:        []int{8},
		Activations:  []*network.Activation{network.TanH()},
		DropoutRatio: dropout,
	}, 1, false)
	require.NoError(t, err)
	target, err := q.TargetNetwork()
	require.NoError(t, err)

	tr, err := NewDQNTrainer(q, target, params, b)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr, q
}

func discreteData() []dataset.Transition {
	actions := []string{"left", "right", "left", "right"}
	data := make([]dataset.Transition, len(actions))
	for i, a := range actions {
		data[i] = dataset.Transition{
			State:                   map[int]float64{1: float64(i)},
			StateIDList:             map[int][]int64{100: {7, 9}},
			ActionName:              a,
			Reward:                  float64(i % 2),
			NextState:               map[int]float64{1: float64(i + 1)},
			NextActionName:          "left",
			PossibleNextActionNames: []string{"left", "right"},
		}
	}
	return data
}

func TestDiscreteBatcher(t *testing.T) {
	params := DefaultDQNTrainerParameters()
	params.Actions = []string{"left", "right"}
	params.RL.RewardBoost = map[string]float64{"right": 10}

	fc := &features.ModelFeatureConfig{
		IDListFeatureConfigs: []features.IDListFeatureConfig{
			{Name: "pages", FeatureID: 100, IDMappingName: "page_ids"},
		},
		IDMappingConfig: map[string]features.IDMapping{
			"page_ids": {IDs: []int64{7, 8, 9}},
		},
	}
	b, err := NewDiscreteBatcher(stateNorm, fc, params.Actions, params.RL)
	require.NoError(t, err)

	data := discreteData()[:2]
	data[1].PossibleNextActionNames = nil
	data[1].NextActionName = ""
	in, err := b.Batch(data)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 0, 0, 1}, in.Action)
	assert.Equal(t, []float64{0, 11}, in.Reward)
	assert.Equal(t, []int{0, -1}, in.NextActionIndex)
	assert.Equal(t, []float64{1, 1, 1, 1}, in.PossibleNextMask)
	assert.Equal(t, []float64{0.5, 0, 0.5, 0.5, 0, 0.5}, in.Bags[0])

	data[0].ActionName = "up"
	_, err = b.Batch(data)
	assert.Error(t, err)
}

func TestDQNTrainerLearns(t *testing.T) {
	tests := []struct {
		name    string
		loss    loss.Type
		dropout float64
		sarsa   bool
	}{
		{"MSE", loss.MSE, 0, false},
		{"Huber", loss.Huber, 0, false},
		{"HuberDropout", loss.Huber, 0.3, false},
		{"SARSA", loss.MSE, 0, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			params := DefaultDQNTrainerParameters()
			params.Actions = []string{"left", "right"}
			params.MinibatchSize = 4
			params.RL.QNetworkLoss = test.loss
			params.RL.MaxQLearning = !test.sarsa
			testDQNTrainerLearns(t, params, test.dropout)
		})
	}
}

func testDQNTrainerLearns(t *testing.T, params DQNTrainerParameters,
	dropout float64) {
	opt, err := solver.NewDefaultAdam(0.01)
	require.NoError(t, err)
	params.Optimizer = opt

	tr, q := discreteSetup(t, params, dropout)
	data := discreteData()

	before, err := tr.Evaluate(data)
	require.NoError(t, err)
	initial := q.Weights()

	for i := 0; i < 300; i++ {
		_, err := tr.Step(data)
		require.NoError(t, err)
	}

	after, err := tr.Evaluate(data)
	require.NoError(t, err)
	assert.Less(t, after.TDLoss, before.TDLoss)
	assert.NotEqual(t, initial, q.Weights())
	assert.Equal(t, 4, tr.MinibatchSize())
}

func TestDQNTrainerParametersValidate(t *testing.T) {
	params := DefaultDQNTrainerParameters()
	assert.Error(t, params.Validate())

	params.Actions = []string{"a", "a"}
	assert.Error(t, params.Validate())

	params.Actions = []string{"a", "b"}
	require.NoError(t, params.Validate())

	params.RL.RewardBoost = map[string]float64{"c": 1}
	assert.Error(t, params.Validate())
}

// linearDiscreteQ returns a network with one dense state feature and no
// hidden layers, so that Q(s) = s * weights
func linearDiscreteQ(t *testing.T, weights []float64) *network.DiscreteQNetwork {
	t.Helper()
	q, err := network.NewDiscreteQNetwork(network.DiscreteConfig{
		StateDim:  1,
		OutputDim: len(weights),
	}, 1, false)
	require.NoError(t, err)

	w := q.Weights()
	w[0].Data = append([]float64(nil), weights...)
	require.NoError(t, q.SetWeights(w))
	return q
}

func TestDQNTDTargets(t *testing.T) {
	actions := []string{"left", "right", "up"}
	data := []dataset.Transition{
		{
			State:                   map[int]float64{1: 0},
			ActionName:              "left",
			Reward:                  0.5,
			NextState:               map[int]float64{1: 1},
			NextActionName:          "up",
			PossibleNextActionNames: []string{"left", "right"},
			NotTerminal:             true,
		},
		{
			State:      map[int]float64{1: 0},
			ActionName: "right",
			Reward:     -1,
			NextState:  map[int]float64{1: 1},
		},
	}

	newTrainer := func(params DQNTrainerParameters) *DQNTrainer {
		b, err := NewDiscreteBatcher(stateNorm, nil, actions, params.RL)
		require.NoError(t, err)

		// The target values the next state at 2, 3, 4 and the online
		// network prefers left
		online := linearDiscreteQ(t, []float64{1, -1, 5})
		target := linearDiscreteQ(t, []float64{2, 3, 4})
		tr, err := NewDQNTrainer(online, target, params, b)
		require.NoError(t, err)
		t.Cleanup(func() { tr.Close() })
		return tr
	}
	targets := func(tr *DQNTrainer) []float64 {
		in, err := tr.batcher.Batch(data)
		require.NoError(t, err)
		out, err := tr.tdTargets(in)
		require.NoError(t, err)
		return out
	}

	params := DefaultDQNTrainerParameters()
	params.Actions = actions
	params.MinibatchSize = 2

	// Max over the possible next actions left and right
	params.DoubleQLearning = false
	assert.InDeltaSlice(t, []float64{0.5 + 0.9*3, -1},
		targets(newTrainer(params)), 1e-9)

	// The online network selects left, valued by the target network
	params.DoubleQLearning = true
	assert.InDeltaSlice(t, []float64{0.5 + 0.9*2, -1},
		targets(newTrainer(params)), 1e-9)

	// SARSA uses the logged next action, even if not possible
	params.RL.MaxQLearning = false
	sarsa := newTrainer(params)
	assert.InDeltaSlice(t, []float64{0.5 + 0.9*4, -1}, targets(sarsa), 1e-9)

	// A non-terminal row needs a next action for SARSA
	data[0].NextActionName = ""
	in, err := sarsa.batcher.Batch(data)
	require.NoError(t, err)
	_, err = sarsa.tdTargets(in)
	assert.Error(t, err)
	_, err = sarsa.Step(data)
	assert.Error(t, err)
}

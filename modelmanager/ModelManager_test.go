package modelmanager

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/features"
	"github.com/samuelfneumann/offlineq/netbuilder"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/serving"
	"github.com/samuelfneumann/offlineq/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var normMap = map[string]normalization.Data{
	normalization.State: normalization.NewData(map[int]normalization.Parameters{
		1: {FeatureType: normalization.Continuous, Mean: 0, Stddev: 1},
		2: {FeatureType: normalization.Binary},
	}),
	normalization.Action: normalization.NewData(map[int]normalization.Parameters{
		10: {FeatureType: normalization.ContinuousAction, Min: -1, Max: 1},
	}),
}

func parametricTransitions(n int) []dataset.Transition {
	ts := make([]dataset.Transition, n)
	for i := range ts {
		x := float64(i) / float64(n)
		ts[i] = dataset.Transition{
			State:               map[int]float64{1: x, 2: float64(i % 2)},
			Action:              map[int]float64{10: x - 0.5},
			Reward:              x,
			NextState:           map[int]float64{1: x + 0.1},
			NextAction:          map[int]float64{10: 0},
			PossibleNextActions: []map[int]float64{{10: -0.5}, {10: 0.5}},
			NotTerminal:         i%3 != 0,
			Metrics:             map[string]float64{"clicks": 2 * x},
		}
	}
	return ts
}

func smallParametric() *ParametricDQN {
	m := NewParametricDQN()
	m.TrainerParam.MinibatchSize = 4
	builder := netbuilder.NewFullyConnected()
	builder.Sizes = []int{8}
	builder.Activations = []string{"relu"}
	m.NetBuilder.ParametricDQNNetBuilder = builder
	return m
}

func TestParametricDQNBuildTrainer(t *testing.T) {
	m := smallParametric()

	_, err := m.BuildServingModule(normMap)
	assert.True(t, errors.Is(err, ErrTrainerNotBuilt))
	assert.True(t, errors.Is(m.SaveServingModule(&bytes.Buffer{}, normMap),
		ErrTrainerNotBuilt))

	_, err = m.BuildTrainer(map[string]normalization.Data{
		normalization.State: normMap[normalization.State],
	}, false, nil)
	require.Error(t, err)
	assert.True(t, normalization.IsMissing(err))
	assert.Nil(t, m.QNetwork())

	tr, err := m.BuildTrainer(normMap, true, &RewardOptions{
		MetricRewardValues: map[string]float64{"clicks": 1},
	})
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, 1, m.QNetwork().OutputDim())
	assert.Equal(t, 2, m.RewardNetwork().OutputDim())
	assert.Equal(t, 4, tr.MinibatchSize())

	report, err := tr.Step(parametricTransitions(8))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Steps)

	p, err := m.BuildServingModule(normMap)
	require.NoError(t, err)
	defer p.Close()
	assert.IsType(t, &serving.ParametricPredictor{}, p)
}

func TestParametricDQNSnapshot(t *testing.T) {
	m := smallParametric()
	tr, err := m.BuildTrainer(normMap, false, nil)
	require.NoError(t, err)
	defer tr.Close()
	_, err = tr.Step(parametricTransitions(4))
	require.NoError(t, err)

	built, err := m.buildServingModule(normMap)
	require.NoError(t, err)
	defer built.Close()

	var buf bytes.Buffer
	require.NoError(t, m.SaveServingModule(&buf, normMap))
	loaded, err := LoadParametricServingModule(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer loaded.Close()

	state := map[int]float64{1: 0.25, 2: 1}
	candidates := []map[int]float64{{10: -0.5}, {10: 0}, {10: 0.5}}
	want, err := built.Predict(state, candidates)
	require.NoError(t, err)
	have, err := loaded.Predict(state, candidates)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, have, 1e-9)

	_, err = LoadDiscreteServingModule(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)

	module, err := LoadServingModule(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.IsType(t, &serving.ParametricPredictor{}, module)
	require.NoError(t, module.Close())
}

var discreteFeatures = &features.ModelFeatureConfig{
	IDListFeatureConfigs: []features.IDListFeatureConfig{
		{Name: "pages", FeatureID: 100, IDMappingName: "page_ids"},
	},
	IDMappingConfig: map[string]features.IDMapping{
		"page_ids": {IDs: []int64{1, 2, 3}},
	},
}

func discreteTransitions(n int) []dataset.Transition {
	actions := []string{"left", "right"}
	ts := make([]dataset.Transition, n)
	for i := range ts {
		x := float64(i) / float64(n)
		ts[i] = dataset.Transition{
			State:                   map[int]float64{1: x, 2: float64(i % 2)},
			StateIDList:             map[int][]int64{100: {int64(i%3 + 1)}},
			ActionName:              actions[i%2],
			Reward:                  x,
			NextState:               map[int]float64{1: x},
			NextStateIDList:         map[int][]int64{100: {2}},
			NextActionName:          actions[(i+1)%2],
			PossibleNextActionNames: actions,
			NotTerminal:             i%4 != 0,
		}
	}
	return ts
}

func smallDiscrete() *DiscreteDQN {
	m := NewDiscreteDQN()
	m.TrainerParam.Actions = []string{"left", "right"}
	m.TrainerParam.MinibatchSize = 4
	m.TrainerParam.RL.SoftmaxPolicy = true
	m.TrainerParam.RL.Temperature = 0.5
	m.StateFeatureConfig = discreteFeatures

	builder := netbuilder.NewFullyConnectedWithEmbedding()
	builder.Sizes = []int{8}
	builder.Activations = []string{"relu"}
	builder.EmbeddingDim = 2
	m.NetBuilder.DiscreteDQNWithIdListNetBuilder = builder
	return m
}

func TestDiscreteDQN(t *testing.T) {
	m := smallDiscrete()
	assert.Equal(t, []string{normalization.State}, m.NormalizationKeys())

	_, err := m.BuildServingModule(normMap)
	assert.True(t, errors.Is(err, ErrTrainerNotBuilt))

	tr, err := m.BuildTrainer(normMap, false, nil)
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, 2, m.QNetwork().OutputDim())
	assert.Equal(t, []int{3}, m.QNetwork().Config().VocabSizes)

	_, err = tr.Step(discreteTransitions(8))
	require.NoError(t, err)

	built, err := m.buildServingModule(normMap)
	require.NoError(t, err)
	defer built.Close()

	var buf bytes.Buffer
	require.NoError(t, m.SaveServingModule(&buf, normMap))
	loaded, err := LoadDiscreteServingModule(&buf)
	require.NoError(t, err)
	defer loaded.Close()

	state := map[int]float64{1: 0.5, 2: 0}
	idLists := map[int][]int64{100: {1, 3}}
	want, err := built.Predict(state, idLists)
	require.NoError(t, err)
	have, err := loaded.Predict(state, idLists)
	require.NoError(t, err)
	for _, a := range m.TrainerParam.Actions {
		assert.InDelta(t, want[a], have[a], 1e-9)
	}
}

func TestDiscreteDQNWithoutIDLists(t *testing.T) {
	m := smallDiscrete()
	m.NetBuilder.DiscreteDQNWithIdListNetBuilder = netbuilder.NewDiscreteFullyConnected()

	tr, err := m.BuildTrainer(normMap, false, nil)
	require.NoError(t, err)
	defer tr.Close()
	assert.Empty(t, m.QNetwork().Config().VocabSizes)

	p, err := m.BuildServingModule(normMap)
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestDiscreteDQNIDListOnly(t *testing.T) {
	idListOnly := map[string]normalization.Data{
		normalization.State: normalization.NewData(nil),
	}
	transitions := discreteTransitions(8)
	for i := range transitions {
		transitions[i].State = nil
		transitions[i].NextState = nil
	}

	m := smallDiscrete()
	tr, err := m.BuildTrainer(idListOnly, false, nil)
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, 0, m.QNetwork().StateDim())

	report, err := tr.Step(transitions)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Steps)
	assert.False(t, math.IsNaN(report.TDLoss))

	var buf bytes.Buffer
	require.NoError(t, m.SaveServingModule(&buf, idListOnly))
	loaded, err := LoadDiscreteServingModule(&buf)
	require.NoError(t, err)
	defer loaded.Close()

	values, err := loaded.Predict(nil, map[int][]int64{100: {2}})
	require.NoError(t, err)
	assert.Len(t, values, 2)
}

func TestDiscreteDQNValidate(t *testing.T) {
	m := NewDiscreteDQN()
	assert.Error(t, m.Validate())

	m.TrainerParam.Actions = []string{"a", "b"}
	assert.NoError(t, m.Validate())

	m.StateFeatureConfig = &features.ModelFeatureConfig{
		IDListFeatureConfigs: []features.IDListFeatureConfig{
			{Name: "x", FeatureID: 1, IDMappingName: "missing"},
		},
	}
	assert.Error(t, m.Validate())
}

func TestUnionJSON(t *testing.T) {
	const config = `{
		"DiscreteDQN": {
			"trainer_param": {
				"actions": ["up", "down"],
				"minibatch_size": 32
			},
			"net_builder": {
				"FullyConnectedWithEmbedding": {
					"sizes": [16],
					"activations": ["tanh"],
					"embedding_dim": 4
				}
			}
		}
	}`

	var u Union
	require.NoError(t, json.Unmarshal([]byte(config), &u))
	typ, err := u.Type()
	require.NoError(t, err)
	assert.Equal(t, DiscreteDQNType, typ)

	m := u.ModelManager.(*DiscreteDQN)
	assert.Equal(t, []string{"up", "down"}, m.TrainerParam.Actions)
	assert.Equal(t, 32, m.TrainerParam.MinibatchSize)
	assert.Equal(t, trainer.DefaultDQNTrainerParameters().RL.Gamma,
		m.TrainerParam.RL.Gamma)
	builder := m.NetBuilder.DiscreteDQNWithIdListNetBuilder.(*netbuilder.FullyConnectedWithEmbedding)
	assert.Equal(t, 4, builder.EmbeddingDim)

	data, err := json.Marshal(u)
	require.NoError(t, err)
	var again Union
	require.NoError(t, json.Unmarshal(data, &again))
	againData, err := json.Marshal(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(againData))

	require.NoError(t, json.Unmarshal([]byte(`{"ParametricDQN": {}}`), &u))
	_, ok := u.ModelManager.(*ParametricDQN)
	assert.True(t, ok)

	assert.Error(t, json.Unmarshal([]byte(`{"Unknown": {}}`), &u))
	assert.Error(t, json.Unmarshal([]byte(`{"ParametricDQN": {},
		"DiscreteDQN": {}}`), &u))
	// Actions are required
	assert.Error(t, json.Unmarshal([]byte(`{"DiscreteDQN": {}}`), &u))
}

func TestMetricsToScore(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, MetricsToScore(
		map[string]float64{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, MetricsToScore(nil))
}

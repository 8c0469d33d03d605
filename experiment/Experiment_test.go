package experiment

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/offlineq/datamodule"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/experiment/tracker"
	"github.com/samuelfneumann/offlineq/modelmanager"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/samuelfneumann/offlineq/serving"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelJSON = `{
	"ParametricDQN": {
		"trainer_param": {"minibatch_size": 4},
		"net_builder": {
			"FullyConnected": {"sizes": [8], "activations": ["relu"]}
		}
	}
}`

var normMap = map[string]normalization.Data{
	normalization.State: normalization.NewData(map[int]normalization.Parameters{
		1: {FeatureType: normalization.Continuous, Mean: 0, Stddev: 1},
	}),
	normalization.Action: normalization.NewData(map[int]normalization.Parameters{
		10: {FeatureType: normalization.ContinuousAction, Min: -1, Max: 1},
	}),
}

func transitions(n int) []dataset.Transition {
	ts := make([]dataset.Transition, n)
	for i := range ts {
		x := float64(i) / float64(n)
		ts[i] = dataset.Transition{
			State:               map[int]float64{1: x},
			Action:              map[int]float64{10: 0.5 - x},
			Reward:              x,
			NextState:           map[int]float64{1: x},
			NextAction:          map[int]float64{10: 0},
			PossibleNextActions: []map[int]float64{{10: -0.5}, {10: 0.5}},
			NotTerminal:         i%2 == 0,
		}
	}
	return ts
}

func config(t *testing.T, extra string) Config {
	t.Helper()
	c, err := ParseConfig([]byte(`{"model": ` + modelJSON + `, "epochs": 2` +
		extra + `}`))
	require.NoError(t, err)
	return c
}

func TestOfflineRun(t *testing.T) {
	dir := t.TempDir()
	c := config(t, "")
	c.OutputPath = filepath.Join(dir, "model.gob")
	c.LossPath = filepath.Join(dir, "loss.gob")
	c.CheckpointEvery = 3
	c.CheckpointPrefix = filepath.Join(dir, "checkpoint")

	data := datamodule.NewStatic(normMap, transitions(10), transitions(6))
	exp, err := NewOffline(c, data)
	require.NoError(t, err)
	exp.SetProgressWriter(io.Discard)
	assert.NotEmpty(t, exp.RunID())

	require.NoError(t, exp.Run(context.Background()))
	require.NoError(t, exp.Save())

	// Two steps per epoch
	assert.Equal(t, 4, exp.Steps())
	losses, err := tracker.LoadData(c.LossPath)
	require.NoError(t, err)
	assert.Len(t, losses, 4)

	require.NotNil(t, exp.EvalReport())
	assert.GreaterOrEqual(t, exp.EvalReport().TDLoss, 0.0)

	_, err = os.Stat(filepath.Join(dir, "checkpoint1.gob"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "checkpoint2.gob"))
	assert.True(t, os.IsNotExist(err))

	file, err := os.Open(c.OutputPath)
	require.NoError(t, err)
	defer file.Close()
	module, err := modelmanager.LoadServingModule(file)
	require.NoError(t, err)
	defer module.Close()

	p := module.(*serving.ParametricPredictor)
	values, err := p.Predict(map[int]float64{1: 0.5},
		[]map[int]float64{{10: -1}, {10: 1}})
	require.NoError(t, err)
	assert.Len(t, values, 2)
}

func TestOfflineRunWithReplay(t *testing.T) {
	c := config(t, `, "replay": {"max_replay_capacity": 8}`)
	require.NotNil(t, c.Replay)
	assert.Equal(t, 8, c.Replay.MaxReplayCapacity)
	assert.Equal(t, 1, c.Replay.RemoveSize)

	exp, err := NewOffline(c, datamodule.NewStatic(normMap, transitions(12),
		nil))
	require.NoError(t, err)
	exp.SetProgressWriter(io.Discard)

	require.NoError(t, exp.Run(context.Background()))
	assert.Equal(t, 6, exp.Steps())
	assert.Nil(t, exp.EvalReport())
}

func TestOfflineRunCancelled(t *testing.T) {
	exp, err := NewOffline(config(t, ""), datamodule.NewStatic(normMap,
		transitions(8), nil))
	require.NoError(t, err)
	exp.SetProgressWriter(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, exp.Run(ctx), context.Canceled)
	assert.Zero(t, exp.Steps())
}

func TestOfflineRunErrors(t *testing.T) {
	// Fewer transitions than a minibatch
	exp, err := NewOffline(config(t, ""), datamodule.NewStatic(normMap,
		transitions(3), nil))
	require.NoError(t, err)
	exp.SetProgressWriter(io.Discard)
	assert.Error(t, exp.Run(context.Background()))

	// Missing action normalization
	exp, err = NewOffline(config(t, ""), datamodule.NewStatic(
		map[string]normalization.Data{
			normalization.State: normMap[normalization.State],
		}, transitions(8), nil))
	require.NoError(t, err)
	exp.SetProgressWriter(io.Discard)
	err = exp.Run(context.Background())
	require.Error(t, err)
	assert.True(t, normalization.IsMissing(err))
}

func TestConfigValidate(t *testing.T) {
	_, err := ParseConfig([]byte(`{"epochs": 1}`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`{"model": ` + modelJSON + `, "epochs": 0}`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`{"model": ` + modelJSON +
		`, "checkpoint_every": 5}`))
	assert.Error(t, err)

	c := config(t, `, "replay": null`)
	assert.Nil(t, c.Replay)
}

func TestLoadConfigYAML(t *testing.T) {
	const yamlConfig = `
model:
  DiscreteDQN:
    trainer_param:
      actions: [left, right]
      rl:
        gamma: 0.5
        reward_boost:
          left: 1
    net_builder:
      FullyConnectedWithEmbedding:
        sizes: [8]
        activations: [relu]
        embedding_dim: 4
data:
  path: transitions.jsonl
  eval_fraction: 0.1
epochs: 3
seed: 7
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Epochs)
	assert.Equal(t, int64(7), c.Seed)
	assert.Equal(t, "transitions.jsonl", c.Data.Path)

	m := c.Model.ModelManager.(*modelmanager.DiscreteDQN)
	assert.Equal(t, []string{"left", "right"}, m.TrainerParam.Actions)
	assert.Equal(t, 0.5, m.TrainerParam.RL.Gamma)
	assert.Equal(t, 1.0, m.TrainerParam.RL.RewardBoost["left"])
}

func TestYAMLToJSONNumericKeys(t *testing.T) {
	data, err := yamlToJSON([]byte("state:\n  1: {feature_type: BINARY}\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"state": {"1": {"feature_type": "BINARY"}}}`,
		string(data))
}

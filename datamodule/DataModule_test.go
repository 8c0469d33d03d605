package datamodule

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/normalization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transitions(n int) []dataset.Transition {
	ts := make([]dataset.Transition, n)
	for i := range ts {
		x := float64(i) + 0.5
		ts[i] = dataset.Transition{
			State:       map[int]float64{1: x, 2: float64(i % 2)},
			Action:      map[int]float64{10: x / 2},
			NextState:   map[int]float64{1: x + 1, 2: float64((i + 1) % 2)},
			NextAction:  map[int]float64{10: x / 3},
			Reward:      1,
			NotTerminal: i%5 != 0,
		}
	}
	return ts
}

func TestStaticGetNormalizationDataMap(t *testing.T) {
	norm := map[string]normalization.Data{
		normalization.State: normalization.NewData(map[int]normalization.Parameters{
			1: {FeatureType: normalization.Binary},
		}),
	}
	var dm DataModule = NewStatic(norm, transitions(3), nil)
	require.NoError(t, dm.Setup(context.Background()))

	all, err := dm.GetNormalizationDataMap(nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = dm.GetNormalizationDataMap([]string{normalization.State,
		normalization.Action})
	require.Error(t, err)
	assert.True(t, normalization.IsMissing(err))

	assert.Len(t, dm.TrainData(), 3)
	assert.Empty(t, dm.EvalData())
}

func TestIdentify(t *testing.T) {
	m, err := Identify(transitions(20), true, 0)
	require.NoError(t, err)

	state := m[normalization.State].DenseNormalizationParameters
	assert.Equal(t, normalization.Continuous, state[1].FeatureType)
	assert.Equal(t, normalization.Binary, state[2].FeatureType)

	action := m[normalization.Action].DenseNormalizationParameters
	assert.Equal(t, normalization.ContinuousAction, action[10].FeatureType)

	noActions := transitions(5)
	for i := range noActions {
		noActions[i].Action = nil
		noActions[i].NextAction = nil
	}
	m, err = Identify(noActions, false, 0)
	require.NoError(t, err)
	_, ok := m[normalization.Action]
	assert.False(t, ok)

	// States made only of id-list features get an empty STATE slot
	idListOnly := transitions(5)
	for i := range idListOnly {
		idListOnly[i].State = nil
		idListOnly[i].NextState = nil
		idListOnly[i].StateIDList = map[int][]int64{100: {int64(i)}}
	}
	m, err = Identify(idListOnly, false, 0)
	require.NoError(t, err)
	stateData, err := normalization.Lookup(m, normalization.State)
	require.NoError(t, err)
	assert.Empty(t, stateData.DenseNormalizationParameters)
	assert.NoError(t, stateData.Validate())
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.jsonl")

	var buf bytes.Buffer
	require.NoError(t, dataset.WriteJSONL(&buf, transitions(20)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f, err := NewFile(Config{Path: path, EvalFraction: 0.25}, 3)
	require.NoError(t, err)

	_, err = f.GetNormalizationDataMap(nil)
	assert.Error(t, err)

	require.NoError(t, f.Setup(context.Background()))
	assert.Len(t, f.TrainData(), 15)
	assert.Len(t, f.EvalData(), 5)

	m, err := f.GetNormalizationDataMap([]string{normalization.State,
		normalization.Action})
	require.NoError(t, err)
	assert.Len(t, m, 2)

	// Normalization stored in a file takes precedence
	normPath := filepath.Join(dir, "norm.json")
	stored := map[string]normalization.Data{
		normalization.State: normalization.NewData(map[int]normalization.Parameters{
			1: {FeatureType: normalization.Continuous, Mean: 2, Stddev: 3},
		}),
	}
	buf.Reset()
	require.NoError(t, SaveNormalization(&buf, stored))
	require.NoError(t, os.WriteFile(normPath, buf.Bytes(), 0o644))

	f, err = NewFile(Config{Path: path, NormalizationPath: normPath}, 3)
	require.NoError(t, err)
	require.NoError(t, f.Setup(context.Background()))

	m, err = f.GetNormalizationDataMap(nil)
	require.NoError(t, err)
	assert.Equal(t, stored, m)
}

func TestFileConfigValidate(t *testing.T) {
	_, err := NewFile(Config{}, 0)
	assert.Error(t, err)

	_, err = NewFile(Config{Path: "x", EvalFraction: 1}, 0)
	assert.Error(t, err)
}

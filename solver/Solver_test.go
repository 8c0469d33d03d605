package solver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalKeepsDefaults(t *testing.T) {
	var s Solver
	require.NoError(t, json.Unmarshal([]byte(`{"Adam": {"StepSize": 0.01}}`), &s))

	adam, ok := s.Config.(*AdamConfig)
	require.True(t, ok)
	assert.Equal(t, 0.01, adam.StepSize)
	assert.Equal(t, 0.9, adam.Beta1)
	assert.Equal(t, 1, adam.Batch)

	// Each call creates an independent solver
	assert.NotSame(t, s.Create(), s.Create())
}

func TestMarshalRoundTrip(t *testing.T) {
	s, err := NewVanilla(0.1, 4, 0)
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Solver
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.Config, decoded.Config)
}

func TestInvalidSolvers(t *testing.T) {
	var s Solver
	assert.Error(t, json.Unmarshal([]byte(`{"SGD": {}}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"Adam": {"StepSize": -1}}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"RMSProp": {"Rho": 1}}`), &s))

	_, err := NewVanilla(0.1, 0, 0)
	assert.Error(t, err)

	var empty *Solver
	assert.Error(t, empty.Validate())
}

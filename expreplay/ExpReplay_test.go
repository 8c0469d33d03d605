package expreplay

import (
	"testing"

	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transition(r float64) dataset.Transition {
	return dataset.Transition{Reward: r}
}

func rewards(ts []dataset.Transition) []float64 {
	r := make([]float64, len(ts))
	for i := range ts {
		r[i] = ts[i].Reward
	}
	return r
}

func TestFifoRemoveFifoSample(t *testing.T) {
	buffer, err := Factory(Fifo, Fifo, 2, 3, 1, 3, 0)
	require.NoError(t, err)

	_, err = buffer.Sample()
	assert.True(t, IsEmptyBuffer(err))

	require.NoError(t, buffer.Add(transition(0)))
	_, err = buffer.Sample()
	assert.True(t, IsInsufficientSamples(err))
	assert.False(t, IsEmptyBuffer(err))

	for i := 1; i < 5; i++ {
		require.NoError(t, buffer.Add(transition(float64(i))))
	}
	assert.Equal(t, 3, buffer.Capacity())
	assert.Equal(t, 3, buffer.MaxCapacity())
	assert.Equal(t, 2, buffer.MinCapacity())

	batch, err := buffer.Sample()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, rewards(batch))
}

func TestFifoSampleCycles(t *testing.T) {
	buffer, err := Factory(Fifo, Fifo, 1, 10, 1, 5, 0)
	require.NoError(t, err)
	require.NoError(t, buffer.Add(transition(1)))
	require.NoError(t, buffer.Add(transition(2)))

	batch, err := buffer.Sample()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1, 2, 1}, rewards(batch))
}

func TestUniformRemover(t *testing.T) {
	buffer, err := Factory(Uniform, Uniform, 1, 4, 2, 8, 3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, buffer.Add(transition(float64(i))))
	}
	// Two removed when the fifth was added
	assert.Equal(t, 3, buffer.Capacity())

	batch, err := buffer.Sample()
	require.NoError(t, err)
	assert.Len(t, batch, 8)

	c := buffer.(*cache)
	stored := make(map[float64]bool)
	for _, i := range c.used {
		stored[c.transitions[i].Reward] = true
	}
	assert.True(t, stored[4])
	for _, r := range rewards(batch) {
		assert.True(t, stored[r])
	}
	assert.Equal(t, c.Capacity(), c.orderOfInsert.Len())
}

func TestConfig(t *testing.T) {
	c := DefaultConfig()
	c.SampleSize = 4
	buffer, err := c.Create(1)
	require.NoError(t, err)
	assert.Equal(t, 4, buffer.BatchSize())

	c.SampleSize = 0
	_, err = c.Create(1)
	assert.Error(t, err)

	c = DefaultConfig()
	c.SampleSize = 1
	c.MinReplayCapacity = 10
	c.MaxReplayCapacity = 5
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.SampleSize = 1
	c.SampleMethod = "Prioritized"
	_, err = c.Create(1)
	assert.Error(t, err)
}

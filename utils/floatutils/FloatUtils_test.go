package floatutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1000, 1000, 999}, 1)
	assert.InDelta(t, probs[0], probs[1], 1e-12)
	assert.Greater(t, probs[0], probs[2])
	assert.InDelta(t, 1, probs[0]+probs[1]+probs[2], 1e-12)
}

func TestMaskedMax(t *testing.T) {
	max, index, ok := MaskedMax([]float64{5, 1, 3}, []float64{0, 1, 1})
	assert.True(t, ok)
	assert.Equal(t, 3.0, max)
	assert.Equal(t, 2, index)

	_, index, ok = MaskedMax([]float64{5}, []float64{0})
	assert.False(t, ok)
	assert.Equal(t, -1, index)
}

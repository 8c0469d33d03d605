// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// MaskedMax returns the maximum of values[i] over all i with
// mask[i] != 0, and the index at which it was found. If no entry is
// unmasked, ok is false.
func MaskedMax(values, mask []float64) (max float64, index int, ok bool) {
	index = -1
	for i, value := range values {
		if mask[i] == 0 {
			continue
		}
		if !ok || value > max {
			max, index, ok = value, i, true
		}
	}
	return
}

// Softmax returns the softmax of values / temperature
func Softmax(values []float64, temperature float64) []float64 {
	max := floats.Max(values)
	out := make([]float64, len(values))

	var sum float64
	for i, v := range values {
		out[i] = math.Exp((v - max) / temperature)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

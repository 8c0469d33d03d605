package normalization

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// MaxUniqueEnumValues is the largest number of distinct integer
	// values for which a feature is identified as an enum
	MaxUniqueEnumValues = 10

	// minStddev is the smallest stddev kept for continuous features,
	// smaller values are replaced by 1.
	minStddev = 1e-6
)

// IdentifyOptions adjusts how normalization parameters are identified
// from samples.
type IdentifyOptions struct {
	// Type forces the identified feature type if non-empty
	Type FeatureType

	// Quantiles, if positive, identifies continuous features as
	// QUANTILE features with this many quantile boundaries
	Quantiles int

	// MaxUniqueEnumValues overrides the package default if positive
	MaxUniqueEnumValues int
}

func (o IdentifyOptions) maxEnumValues() int {
	if o.MaxUniqueEnumValues > 0 {
		return o.MaxUniqueEnumValues
	}
	return MaxUniqueEnumValues
}

// Identify infers normalization Parameters from samples of a single
// feature.
func Identify(values []float64, opts IdentifyOptions) (Parameters, error) {
	if len(values) == 0 {
		return Parameters{}, errors.New("identify: no samples")
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Parameters{}, errors.Errorf("identify: invalid sample %v", v)
		}
	}

	featureType := opts.Type
	if featureType == "" {
		featureType = inferType(values, opts)
	}

	switch featureType {
	case Binary, Probability, DiscreteAction:
		return Parameters{FeatureType: featureType}, nil

	case Enum:
		return Parameters{
			FeatureType:    Enum,
			PossibleValues: uniqueSorted(values),
		}, nil

	case ContinuousAction:
		min, max := floats.Min(values), floats.Max(values)
		if max <= min {
			// A constant action still needs a non-empty range
			max = min + 1
		}
		return Parameters{FeatureType: ContinuousAction, Min: min, Max: max}, nil

	case Quantile:
		n := opts.Quantiles
		if n < 2 {
			n = 2
		}
		q := quantiles(values, n)
		if len(q) < 2 {
			// Too few distinct values to quantize
			return identifyContinuous(values), nil
		}
		return Parameters{FeatureType: Quantile, Quantiles: q}, nil

	case Continuous:
		return identifyContinuous(values), nil

	default:
		return Parameters{}, errors.Errorf("identify: cannot identify "+
			"features of type %q", featureType)
	}
}

// IdentifyAll identifies the normalization parameters of each feature
// in samples.
func IdentifyAll(samples map[int][]float64, opts IdentifyOptions) (Data,
	error) {
	if len(samples) == 0 {
		return Data{}, errors.New("identifyAll: no features")
	}

	params := make(map[int]Parameters, len(samples))
	for id, values := range samples {
		p, err := Identify(values, opts)
		if err != nil {
			return Data{}, errors.Wrapf(err, "identifyAll: feature %d", id)
		}
		params[id] = p
	}
	return NewData(params), nil
}

// inferType returns the feature type of values
func inferType(values []float64, opts IdentifyOptions) FeatureType {
	binary, probability, integral := true, true, true
	for _, v := range values {
		if v != 0 && v != 1 {
			binary = false
		}
		if v < 0 || v > 1 {
			probability = false
		}
		if v != math.Trunc(v) {
			integral = false
		}
	}

	switch {
	case binary:
		return Binary
	case probability:
		return Probability
	case integral && len(uniqueSorted(values)) <= opts.maxEnumValues():
		return Enum
	case opts.Quantiles > 0:
		return Quantile
	default:
		return Continuous
	}
}

func identifyContinuous(values []float64) Parameters {
	mean, stddev := stat.MeanStdDev(values, nil)
	if math.IsNaN(stddev) || stddev < minStddev {
		stddev = 1
	}
	return Parameters{FeatureType: Continuous, Mean: mean, Stddev: stddev}
}

// quantiles returns up to n strictly increasing, evenly spaced
// empirical quantiles of values.
func quantiles(values []float64, n int) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	slices.Sort(sorted)

	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		p := float64(i) / float64(n-1)
		q := stat.Quantile(p, stat.Empirical, sorted, nil)
		if len(out) == 0 || q > out[len(out)-1] {
			out = append(out, q)
		}
	}
	return out
}

func uniqueSorted(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	slices.Sort(out)
	return slices.Compact(out)
}

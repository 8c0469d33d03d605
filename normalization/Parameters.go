// Package normalization implements per-feature normalization
// parameters, the named slots they are stored under, and the
// preprocessing that turns raw sparse features into dense network
// inputs.
package normalization

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// FeatureType describes how a single raw feature is normalized
type FeatureType string

// Available feature types
const (
	Continuous       FeatureType = "CONTINUOUS"
	Binary           FeatureType = "BINARY"
	Probability      FeatureType = "PROBABILITY"
	Enum             FeatureType = "ENUM"
	Quantile         FeatureType = "QUANTILE"
	Boxcox           FeatureType = "BOXCOX"
	ContinuousAction FeatureType = "CONTINUOUS_ACTION"
	DiscreteAction   FeatureType = "DISCRETE_ACTION"
)

// Named slots that normalization data is stored under
const (
	State     = "state"
	Action    = "action"
	Item      = "item"
	Candidate = "candidate"
)

// ErrMissingNormalization is returned when normalization data is
// requested for a slot that has none.
var ErrMissingNormalization = errors.New("missing normalization data")

// Parameters describes the normalization of a single feature.
type Parameters struct {
	FeatureType    FeatureType `json:"feature_type"`
	Mean           float64     `json:"mean,omitempty"`
	Stddev         float64     `json:"stddev,omitempty"`
	BoxcoxLambda   float64     `json:"boxcox_lambda,omitempty"`
	BoxcoxShift    float64     `json:"boxcox_shift,omitempty"`
	PossibleValues []float64   `json:"possible_values,omitempty"`
	Quantiles      []float64   `json:"quantiles,omitempty"`
	Min            float64     `json:"min_value,omitempty"`
	Max            float64     `json:"max_value,omitempty"`
}

// Validate checks that the Parameters can be used to normalize a
// feature of its type.
func (p Parameters) Validate() error {
	switch p.FeatureType {
	case Continuous, Boxcox:
		if p.Stddev <= 0 {
			return errors.Errorf("validate: %v features need a positive "+
				"stddev\n\twant(>0)\n\thave(%v)", p.FeatureType, p.Stddev)
		}

	case Enum:
		if len(p.PossibleValues) == 0 {
			return errors.New("validate: enum features need at least one " +
				"possible value")
		}

	case Quantile:
		if len(p.Quantiles) < 2 {
			return errors.Errorf("validate: quantile features need at "+
				"least 2 quantiles\n\twant(>=2)\n\thave(%v)", len(p.Quantiles))
		}
		for i := 1; i < len(p.Quantiles); i++ {
			if p.Quantiles[i] <= p.Quantiles[i-1] {
				return errors.Errorf("validate: quantiles must be strictly "+
					"increasing, got %v", p.Quantiles)
			}
		}

	case ContinuousAction:
		if p.Max <= p.Min {
			return errors.Errorf("validate: continuous action range is "+
				"empty [%v, %v]", p.Min, p.Max)
		}

	case Binary, Probability, DiscreteAction:

	default:
		return errors.Errorf("validate: unknown feature type %q",
			p.FeatureType)
	}
	return nil
}

// Width returns the number of dense columns the feature occupies after
// preprocessing.
func (p Parameters) Width() int {
	if p.FeatureType == Enum {
		return len(p.PossibleValues)
	}
	return 1
}

// Data holds the normalization parameters of every dense feature in a
// slot, keyed by feature id.
type Data struct {
	DenseNormalizationParameters map[int]Parameters `json:"dense_normalization_parameters"`
}

// NewData returns a new Data wrapping params
func NewData(params map[int]Parameters) Data {
	return Data{DenseNormalizationParameters: params}
}

// Validate validates every feature's parameters. A slot may hold no
// dense features, as for states made only of id-list features.
func (d Data) Validate() error {
	for _, id := range SortedFeatureIDs(d.DenseNormalizationParameters) {
		if err := d.DenseNormalizationParameters[id].Validate(); err != nil {
			return errors.Wrapf(err, "feature %d", id)
		}
	}
	return nil
}

// Lookup returns the normalization Data stored under key, or an error
// wrapping ErrMissingNormalization if there is none.
func Lookup(m map[string]Data, key string) (Data, error) {
	data, ok := m[key]
	if !ok {
		return Data{}, errors.Wrapf(ErrMissingNormalization, "key %q", key)
	}
	return data, nil
}

// IsMissing returns whether err reports missing normalization data
func IsMissing(err error) bool {
	return errors.Is(err, ErrMissingNormalization)
}

// SortedFeatureIDs returns the feature ids of params in ascending
// order. This is the column order of preprocessed features.
func SortedFeatureIDs(params map[int]Parameters) []int {
	ids := maps.Keys(params)
	slices.Sort(ids)
	return ids
}

// InputDim returns the number of dense columns produced by
// preprocessing features with params.
func InputDim(params map[int]Parameters) int {
	dim := 0
	for _, p := range params {
		dim += p.Width()
	}
	return dim
}

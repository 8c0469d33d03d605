package normalization

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/utils/floatutils"
)

const (
	// MaxFeatureValue bounds standardized continuous features
	MaxFeatureValue = 6.0

	// probabilityEps clamps probabilities before taking their logit
	probabilityEps = 1e-5

	// actionEps keeps scaled continuous actions strictly inside (-1, 1)
	actionEps = 1e-6

	// boxcoxEps is the smallest shifted value a Box-Cox transform sees
	boxcoxEps = 1e-6
)

// column is a single feature's position within a preprocessed row
type column struct {
	id     int
	offset int
	params Parameters
}

// Preprocessor turns raw sparse features, keyed by feature id, into
// dense rows. Features are laid out in ascending feature id order, and
// each feature occupies Parameters.Width() columns.
type Preprocessor struct {
	columns []column
	width   int
}

// NewPreprocessor returns a Preprocessor for the features in params.
// Empty params give a Preprocessor producing zero-width rows.
func NewPreprocessor(params map[int]Parameters) (*Preprocessor, error) {
	p := &Preprocessor{}
	for _, id := range SortedFeatureIDs(params) {
		param := params[id]
		if err := param.Validate(); err != nil {
			return nil, errors.Wrapf(err, "newPreprocessor: feature %d", id)
		}
		p.columns = append(p.columns, column{
			id:     id,
			offset: p.width,
			params: param,
		})
		p.width += param.Width()
	}
	return p, nil
}

// Width returns the number of columns in a preprocessed row
func (p *Preprocessor) Width() int {
	return p.width
}

// FeatureIDs returns the ids of the features that are preprocessed, in
// column order.
func (p *Preprocessor) FeatureIDs() []int {
	ids := make([]int, len(p.columns))
	for i, c := range p.columns {
		ids[i] = c.id
	}
	return ids
}

// Transform preprocesses a single row of raw features. Features absent
// from raw are left as zeros; features in raw without normalization
// parameters are ignored.
func (p *Preprocessor) Transform(raw map[int]float64) []float64 {
	out := make([]float64, p.width)
	p.transformInto(raw, out)
	return out
}

// TransformBatch preprocesses a batch of rows, returning the rows
// concatenated in row-major order.
func (p *Preprocessor) TransformBatch(rows []map[int]float64) []float64 {
	out := make([]float64, p.width*len(rows))
	for i, raw := range rows {
		p.transformInto(raw, out[i*p.width:(i+1)*p.width])
	}
	return out
}

func (p *Preprocessor) transformInto(raw map[int]float64, out []float64) {
	for _, c := range p.columns {
		value, ok := raw[c.id]
		if !ok {
			continue
		}
		dst := out[c.offset : c.offset+c.params.Width()]
		transformFeature(value, c.params, dst)
	}
}

// transformFeature writes the normalized value of x into dst, which has
// length params.Width()
func transformFeature(x float64, params Parameters, dst []float64) {
	switch params.FeatureType {
	case Continuous:
		z := (x - params.Mean) / params.Stddev
		dst[0] = floatutils.Clip(z, -MaxFeatureValue, MaxFeatureValue)

	case Binary:
		if x != 0 {
			dst[0] = 1
		}

	case Probability:
		x = floatutils.Clip(x, probabilityEps, 1-probabilityEps)
		dst[0] = -math.Log(1/x - 1)

	case Enum:
		for i, v := range params.PossibleValues {
			if v == x {
				dst[i] = 1
				break
			}
		}

	case Quantile:
		dst[0] = quantilePosition(x, params.Quantiles)

	case Boxcox:
		y := math.Max(x+params.BoxcoxShift, boxcoxEps)
		if params.BoxcoxLambda == 0 {
			y = math.Log(y)
		} else {
			y = (math.Pow(y, params.BoxcoxLambda) - 1) / params.BoxcoxLambda
		}
		z := (y - params.Mean) / params.Stddev
		dst[0] = floatutils.Clip(z, -MaxFeatureValue, MaxFeatureValue)

	case ContinuousAction:
		scale := 2 * (1 - actionEps) / (params.Max - params.Min)
		dst[0] = (x-params.Min)*scale - (1 - actionEps)

	case DiscreteAction:
		dst[0] = x
	}
}

// quantilePosition returns the relative position of x within the
// quantile boundaries, linearly interpolated between boundaries and
// clipped to [0, 1].
func quantilePosition(x float64, quantiles []float64) float64 {
	n := len(quantiles)
	if x <= quantiles[0] {
		return 0
	}
	if x >= quantiles[n-1] {
		return 1
	}

	// Find the interval [quantiles[i], quantiles[i+1]) containing x
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if quantiles[mid] <= x {
			lo = mid
		} else {
			hi = mid
		}
	}

	frac := (x - quantiles[lo]) / (quantiles[hi] - quantiles[lo])
	return (float64(lo) + frac) / float64(n-1)
}

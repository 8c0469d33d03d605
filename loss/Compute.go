package loss

import (
	"math"

	"github.com/pkg/errors"
)

// Compute returns the loss named t between pred and target outside of
// a computational graph
func Compute(t Type, pred, target []float64) (float64, error) {
	if len(pred) != len(target) {
		return 0, errors.Errorf("compute: predictions and targets differ "+
			"in length\n\twant(%d)\n\thave(%d)", len(pred), len(target))
	}
	if len(pred) == 0 {
		return 0, nil
	}

	var total float64
	switch t {
	case MSE:
		for i := range pred {
			d := pred[i] - target[i]
			total += d * d
		}
	case Huber:
		for i := range pred {
			d := math.Abs(pred[i] - target[i])
			if d < huberDelta {
				total += 0.5 * d * d
			} else {
				total += 0.5*huberDelta*huberDelta + huberDelta*(d-huberDelta)
			}
		}
	default:
		return 0, errors.Errorf("compute: unknown loss %q", t)
	}
	return total / float64(len(pred)), nil
}

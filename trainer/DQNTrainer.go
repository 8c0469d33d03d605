package trainer

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/loss"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/utils/floatutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

// DQNTrainer trains a Q network predicting one value per discrete
// action, with double Q-learning and a Polyak-averaged target network
type DQNTrainer struct {
	q       *network.DiscreteQNetwork
	qTarget *network.DiscreteQNetwork

	params  DQNTrainerParameters
	batcher *DiscreteBatcher

	qLearner *learner
	trainQ   *network.DiscreteQNetwork
	selected *G.Node

	qEval      *network.DiscreteEvaluator
	targetEval *network.DiscreteEvaluator

	steps int
}

// NewDQNTrainer returns a new DQNTrainer. The networks q and qTarget
// must share an architecture with one output per action.
func NewDQNTrainer(q, qTarget *network.DiscreteQNetwork,
	params DQNTrainerParameters, batcher *DiscreteBatcher) (*DQNTrainer,
	error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "newDQNTrainer")
	}
	if q == nil || qTarget == nil {
		return nil, errors.New("newDQNTrainer: q and target networks are " +
			"required")
	}
	if q.OutputDim() != len(params.Actions) {
		return nil, errors.Errorf("newDQNTrainer: q network must have one "+
			"output per action\n\twant(%d)\n\thave(%d)",
			len(params.Actions), q.OutputDim())
	}
	if q.StateDim() != batcher.StateDim() {
		return nil, errors.Errorf("newDQNTrainer: network and batcher "+
			"state dimensions differ\n\twant(%d)\n\thave(%d)", q.StateDim(),
			batcher.StateDim())
	}

	lossFn, err := loss.ByName(params.RL.QNetworkLoss)
	if err != nil {
		return nil, errors.Wrap(err, "newDQNTrainer")
	}
	batch := params.MinibatchSize

	trainQ, err := q.CloneWithBatch(batch, true)
	if err != nil {
		return nil, errors.Wrap(err, "newDQNTrainer: could not create "+
			"training network")
	}

	// Action selected in the previous state. This is needed to compute
	// the loss using the correct action value since the network outputs
	// one value per action
	selected := G.NewMatrix(
		trainQ.Graph(),
		tensor.Float64,
		G.WithName("actionSelected"),
		G.WithShape(batch, len(params.Actions)),
		G.WithInit(G.Zeroes()),
	)
	qLearner, err := newLearner(trainQ, lossFn, params.Optimizer.Create(),
		selected, batch)
	if err != nil {
		return nil, errors.Wrap(err, "newDQNTrainer")
	}

	return &DQNTrainer{
		q:          q,
		qTarget:    qTarget,
		params:     params,
		batcher:    batcher,
		qLearner:   qLearner,
		trainQ:     trainQ,
		selected:   selected,
		qEval:      network.NewDiscreteEvaluator(q),
		targetEval: network.NewDiscreteEvaluator(qTarget),
	}, nil
}

// MinibatchSize implements the Trainer interface
func (d *DQNTrainer) MinibatchSize() int {
	return d.params.MinibatchSize
}

// MinibatchesPerStep implements the Trainer interface
func (d *DQNTrainer) MinibatchesPerStep() int {
	return d.params.MinibatchesPerStep
}

// Q returns the trained Q network
func (d *DQNTrainer) Q() *network.DiscreteQNetwork {
	return d.q
}

// Target returns the target network
func (d *DQNTrainer) Target() *network.DiscreteQNetwork {
	return d.qTarget
}

// Step implements the Trainer interface
func (d *DQNTrainer) Step(transitions []dataset.Transition) (Report, error) {
	batches, err := minibatches(transitions, d.params.MinibatchSize)
	if err != nil {
		return Report{}, errors.Wrap(err, "step")
	}

	var report Report
	for _, batch := range batches {
		input, err := d.batcher.Batch(batch)
		if err != nil {
			return Report{}, errors.Wrap(err, "step")
		}
		r, err := d.Train(input)
		if err != nil {
			return Report{}, errors.Wrap(err, "step")
		}
		report.add(r)
	}
	report.scale(len(batches))
	return report, nil
}

// Train performs a gradient step on a single preprocessed minibatch
func (d *DQNTrainer) Train(input *DiscreteDQNInput) (Report, error) {
	if input.Rows != d.params.MinibatchSize {
		return Report{}, errors.Errorf("train: invalid number of rows"+
			"\n\twant(%d)\n\thave(%d)", d.params.MinibatchSize, input.Rows)
	}

	targets, err := d.tdTargets(input)
	if err != nil {
		return Report{}, errors.Wrap(err, "train")
	}

	if err := d.trainQ.SetInput(input.State, input.Bags); err != nil {
		return Report{}, errors.Wrap(err, "train")
	}
	selected := tensor.New(
		tensor.WithShape(d.selected.Shape()...),
		tensor.WithBacking(input.Action),
	)
	if err := G.Let(d.selected, selected); err != nil {
		return Report{}, errors.Wrap(err, "train: could not set actions")
	}

	tdLoss, err := d.qLearner.step(targets)
	if err != nil {
		return Report{}, errors.Wrap(err, "train")
	}
	meanQ := mean(selectedValues(d.trainQ.Output().Data().([]float64),
		input.Action, len(d.params.Actions)))

	if err := d.qTarget.Polyak(d.trainQ, d.params.RL.TargetUpdateRate); err != nil {
		return Report{}, errors.Wrap(err, "train: target network")
	}
	if err := d.q.Set(d.trainQ); err != nil {
		return Report{}, errors.Wrap(err, "train")
	}

	d.steps++
	if klog.V(2).Enabled() {
		klog.Infof("Step %d: td loss %.6f, mean q %.4f", d.steps, tdLoss,
			meanQ)
	}

	return Report{TDLoss: tdLoss, MeanQ: meanQ, Steps: 1}, nil
}

// Evaluate implements the Trainer interface
func (d *DQNTrainer) Evaluate(transitions []dataset.Transition) (Report,
	error) {
	input, err := d.batcher.Batch(transitions)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}

	targets, err := d.tdTargets(input)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}
	values, err := d.qEval.Evaluate(input.Rows, input.State, input.Bags)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}
	qValues := selectedValues(values, input.Action, len(d.params.Actions))

	tdLoss, err := loss.Compute(d.params.RL.QNetworkLoss, qValues, targets)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}
	return Report{TDLoss: tdLoss, MeanQ: mean(qValues)}, nil
}

// tdTargets returns the bootstrapped update target of each row:
// r + discount * notTerminal * nextQ
func (d *DQNTrainer) tdTargets(input *DiscreteDQNInput) ([]float64, error) {
	numActions := len(d.params.Actions)

	targetValues, err := d.targetEval.Evaluate(input.Rows, input.NextState,
		input.NextBags)
	if err != nil {
		return nil, errors.Wrap(err, "tdTargets")
	}
	selectValues := targetValues
	if d.params.RL.MaxQLearning && d.params.DoubleQLearning {
		selectValues, err = d.qEval.Evaluate(input.Rows, input.NextState,
			input.NextBags)
		if err != nil {
			return nil, errors.Wrap(err, "tdTargets")
		}
	}

	targets := make([]float64, input.Rows)
	for i := range targets {
		lo, hi := i*numActions, (i+1)*numActions

		var nextQ float64
		if d.params.RL.MaxQLearning {
			_, index, ok := floatutils.MaskedMax(selectValues[lo:hi],
				input.PossibleNextMask[lo:hi])
			if ok {
				nextQ = targetValues[lo+index]
			}
		} else if next := input.NextActionIndex[i]; next >= 0 {
			nextQ = targetValues[lo+next]
		} else if input.NotTerminal[i] != 0 {
			return nil, errors.Errorf("tdTargets: row %d has no next "+
				"action", i)
		}

		targets[i] = input.Reward[i] +
			input.Discount[i]*input.NotTerminal[i]*nextQ
	}
	return targets, nil
}

// Close implements the Trainer interface
func (d *DQNTrainer) Close() error {
	return firstError(d.qLearner.close(), d.qEval.Close(),
		d.targetEval.Close())
}

// selectedValues returns the value of the one-hot selected action of
// each row of the row-major [rows, numActions] values
func selectedValues(values, oneHot []float64, numActions int) []float64 {
	rows := len(values) / numActions
	out := make([]float64, rows)
	for i := range out {
		for j := 0; j < numActions; j++ {
			out[i] += values[i*numActions+j] * oneHot[i*numActions+j]
		}
	}
	return out
}

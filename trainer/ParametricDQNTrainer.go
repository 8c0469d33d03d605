package trainer

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/loss"
	"github.com/samuelfneumann/offlineq/network"
	"github.com/samuelfneumann/offlineq/utils/floatutils"
	"k8s.io/klog/v2"
)

// ParametricDQNTrainer trains a Q network over state-action pairs with
// double Q-learning and a Polyak-averaged target network. A reward
// network predicting the reward and each metric is trained alongside.
type ParametricDQNTrainer struct {
	q       *network.ParametricQNetwork
	qTarget *network.ParametricQNetwork
	reward  *network.ParametricQNetwork

	params  ParametricDQNTrainerParameters
	batcher *ParametricBatcher

	qLearner      *learner
	trainQ        *network.ParametricQNetwork
	rewardLearner *learner
	trainReward   *network.ParametricQNetwork

	qEval      *network.ParametricEvaluator
	targetEval *network.ParametricEvaluator
	rewardEval *network.ParametricEvaluator

	steps int
}

// NewParametricDQNTrainer returns a new ParametricDQNTrainer. The
// networks q and qTarget must share an architecture with one output.
// The reward network may be nil, otherwise it must have one output per
// column of the batcher's reward targets.
func NewParametricDQNTrainer(q, qTarget, reward *network.ParametricQNetwork,
	params ParametricDQNTrainerParameters,
	batcher *ParametricBatcher) (*ParametricDQNTrainer, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "newParametricDQNTrainer")
	}
	if q == nil || qTarget == nil {
		return nil, errors.New("newParametricDQNTrainer: q and target " +
			"networks are required")
	}
	if q.OutputDim() != 1 {
		return nil, errors.Errorf("newParametricDQNTrainer: q network must "+
			"have a single output\n\twant(1)\n\thave(%d)", q.OutputDim())
	}
	if q.StateDim() != batcher.StateDim() ||
		q.ActionDim() != batcher.ActionDim() {
		return nil, errors.Errorf("newParametricDQNTrainer: network and "+
			"batcher input dimensions differ\n\twant(%d, %d)\n\thave(%d, %d)",
			q.StateDim(), q.ActionDim(), batcher.StateDim(),
			batcher.ActionDim())
	}
	if reward != nil && reward.OutputDim() != batcher.RewardDim() {
		return nil, errors.Errorf("newParametricDQNTrainer: invalid reward "+
			"network outputs\n\twant(%d)\n\thave(%d)", batcher.RewardDim(),
			reward.OutputDim())
	}

	lossFn, err := loss.ByName(params.RL.QNetworkLoss)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricDQNTrainer")
	}
	batch := params.MinibatchSize

	trainQ, err := q.CloneWithBatch(batch, true)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricDQNTrainer: could not "+
			"create training network")
	}
	qLearner, err := newLearner(trainQ, lossFn, params.Optimizer.Create(),
		nil, batch, 1)
	if err != nil {
		return nil, errors.Wrap(err, "newParametricDQNTrainer")
	}

	t := &ParametricDQNTrainer{
		q:          q,
		qTarget:    qTarget,
		reward:     reward,
		params:     params,
		batcher:    batcher,
		qLearner:   qLearner,
		trainQ:     trainQ,
		qEval:      network.NewParametricEvaluator(q),
		targetEval: network.NewParametricEvaluator(qTarget),
	}

	if reward != nil {
		t.trainReward, err = reward.CloneWithBatch(batch, true)
		if err != nil {
			return nil, errors.Wrap(err, "newParametricDQNTrainer: could "+
				"not create reward training network")
		}
		t.rewardLearner, err = newLearner(t.trainReward, loss.MeanSquared,
			params.Optimizer.Create(), nil, batch, reward.OutputDim())
		if err != nil {
			return nil, errors.Wrap(err, "newParametricDQNTrainer")
		}
		t.rewardEval = network.NewParametricEvaluator(reward)
	}

	return t, nil
}

// MinibatchSize implements the Trainer interface
func (p *ParametricDQNTrainer) MinibatchSize() int {
	return p.params.MinibatchSize
}

// MinibatchesPerStep implements the Trainer interface
func (p *ParametricDQNTrainer) MinibatchesPerStep() int {
	return p.params.MinibatchesPerStep
}

// Q returns the trained Q network
func (p *ParametricDQNTrainer) Q() *network.ParametricQNetwork {
	return p.q
}

// Target returns the target network
func (p *ParametricDQNTrainer) Target() *network.ParametricQNetwork {
	return p.qTarget
}

// Reward returns the reward network, which may be nil
func (p *ParametricDQNTrainer) Reward() *network.ParametricQNetwork {
	return p.reward
}

// Step implements the Trainer interface
func (p *ParametricDQNTrainer) Step(
	transitions []dataset.Transition) (Report, error) {
	batches, err := minibatches(transitions, p.params.MinibatchSize)
	if err != nil {
		return Report{}, errors.Wrap(err, "step")
	}

	var report Report
	for _, batch := range batches {
		input, err := p.batcher.Batch(batch)
		if err != nil {
			return Report{}, errors.Wrap(err, "step")
		}
		r, err := p.Train(input)
		if err != nil {
			return Report{}, errors.Wrap(err, "step")
		}
		report.add(r)
	}
	report.scale(len(batches))
	return report, nil
}

// Train performs a gradient step on a single preprocessed minibatch
func (p *ParametricDQNTrainer) Train(input *ParametricDQNInput) (Report,
	error) {
	if input.Rows != p.params.MinibatchSize {
		return Report{}, errors.Errorf("train: invalid number of rows"+
			"\n\twant(%d)\n\thave(%d)", p.params.MinibatchSize, input.Rows)
	}

	targets, err := p.tdTargets(input)
	if err != nil {
		return Report{}, errors.Wrap(err, "train")
	}

	if err := p.trainQ.SetInput(input.State, input.Action); err != nil {
		return Report{}, errors.Wrap(err, "train")
	}
	tdLoss, err := p.qLearner.step(targets)
	if err != nil {
		return Report{}, errors.Wrap(err, "train: q network")
	}
	meanQ := mean(p.trainQ.Output().Data().([]float64))

	// Move the target towards the trained network and publish the
	// trained weights
	if err := p.qTarget.Polyak(p.trainQ, p.params.RL.TargetUpdateRate); err != nil {
		return Report{}, errors.Wrap(err, "train: target network")
	}
	if err := p.q.Set(p.trainQ); err != nil {
		return Report{}, errors.Wrap(err, "train")
	}

	var rewardLoss float64
	if p.reward != nil {
		if err := p.trainReward.SetInput(input.State,
			input.Action); err != nil {
			return Report{}, errors.Wrap(err, "train")
		}
		rewardLoss, err = p.rewardLearner.step(input.RewardTargets)
		if err != nil {
			return Report{}, errors.Wrap(err, "train: reward network")
		}
		if err := p.reward.Set(p.trainReward); err != nil {
			return Report{}, errors.Wrap(err, "train")
		}
	}

	p.steps++
	if klog.V(2).Enabled() {
		klog.Infof("Step %d: td loss %.6f, reward loss %.6f, mean q %.4f",
			p.steps, tdLoss, rewardLoss, meanQ)
	}

	return Report{
		TDLoss:     tdLoss,
		RewardLoss: rewardLoss,
		MeanQ:      meanQ,
		Steps:      1,
	}, nil
}

// Evaluate implements the Trainer interface
func (p *ParametricDQNTrainer) Evaluate(
	transitions []dataset.Transition) (Report, error) {
	input, err := p.batcher.Batch(transitions)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}

	targets, err := p.tdTargets(input)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}
	qValues, err := p.qEval.Evaluate(input.State, input.Action)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}
	tdLoss, err := loss.Compute(p.params.RL.QNetworkLoss, qValues, targets)
	if err != nil {
		return Report{}, errors.Wrap(err, "evaluate")
	}

	var rewardLoss float64
	if p.reward != nil {
		pred, err := p.rewardEval.Evaluate(input.State, input.Action)
		if err != nil {
			return Report{}, errors.Wrap(err, "evaluate")
		}
		rewardLoss, err = loss.Compute(loss.MSE, pred, input.RewardTargets)
		if err != nil {
			return Report{}, errors.Wrap(err, "evaluate")
		}
	}

	return Report{
		TDLoss:     tdLoss,
		RewardLoss: rewardLoss,
		MeanQ:      mean(qValues),
	}, nil
}

// tdTargets returns the bootstrapped update target of each row:
// r + discount * notTerminal * nextQ
func (p *ParametricDQNTrainer) tdTargets(input *ParametricDQNInput) ([]float64,
	error) {
	var nextQ []float64
	var err error
	if p.params.RL.MaxQLearning {
		nextQ, err = p.maxNextQ(input)
	} else {
		nextQ, err = p.targetEval.Evaluate(input.NextState, input.NextAction)
	}
	if err != nil {
		return nil, errors.Wrap(err, "tdTargets")
	}

	targets := make([]float64, input.Rows)
	for i := range targets {
		targets[i] = input.Reward[i] +
			input.Discount[i]*input.NotTerminal[i]*nextQ[i]
	}
	return targets, nil
}

// maxNextQ returns the maximum value over the possible next actions of
// each row. With double Q-learning, the maximizing action is chosen by
// the Q network and valued by the target network. Rows without
// possible next actions have a value of 0.
func (p *ParametricDQNTrainer) maxNextQ(input *ParametricDQNInput) ([]float64,
	error) {
	nextQ := make([]float64, input.Rows)
	maxActions := input.MaxPossibleActions
	if maxActions == 0 {
		return nextQ, nil
	}

	// Pair each next state with each of its padded possible actions
	stateDim := p.batcher.StateDim()
	states := make([]float64, 0, input.Rows*maxActions*stateDim)
	for i := 0; i < input.Rows; i++ {
		row := input.NextState[i*stateDim : (i+1)*stateDim]
		for j := 0; j < maxActions; j++ {
			states = append(states, row...)
		}
	}

	targetValues, err := p.targetEval.Evaluate(states,
		input.PossibleNextActions)
	if err != nil {
		return nil, err
	}
	selectValues := targetValues
	if p.params.DoubleQLearning {
		selectValues, err = p.qEval.Evaluate(states, input.PossibleNextActions)
		if err != nil {
			return nil, err
		}
	}

	for i := range nextQ {
		lo, hi := i*maxActions, (i+1)*maxActions
		_, index, ok := floatutils.MaskedMax(selectValues[lo:hi],
			input.PossibleNextMask[lo:hi])
		if ok {
			nextQ[i] = targetValues[lo+index]
		}
	}
	return nextQ, nil
}

// Close implements the Trainer interface
func (p *ParametricDQNTrainer) Close() error {
	err := firstError(p.qLearner.close(), p.qEval.Close(),
		p.targetEval.Close())
	if p.reward != nil {
		err = firstError(err, p.rewardLearner.close(), p.rewardEval.Close())
	}
	return err
}

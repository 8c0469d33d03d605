// Package trainer implements offline deep Q-learning trainers for
// parametric and discrete actions.
package trainer

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"github.com/samuelfneumann/offlineq/loss"
	"github.com/samuelfneumann/offlineq/network"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Trainer trains a Q network from batches of transitions
type Trainer interface {
	// Step performs one training step on transitions, whose number
	// must be a multiple of MinibatchSize()
	Step(transitions []dataset.Transition) (Report, error)

	// Evaluate returns the losses on transitions without updating any
	// network
	Evaluate(transitions []dataset.Transition) (Report, error)

	MinibatchSize() int

	// MinibatchesPerStep returns the number of minibatches an
	// experiment passes to each call of Step
	MinibatchesPerStep() int

	Close() error
}

// Report summarizes a training step or an evaluation
type Report struct {
	TDLoss     float64
	RewardLoss float64
	MeanQ      float64
	Steps      int
}

// add accumulates another report into r
func (r *Report) add(other Report) {
	r.TDLoss += other.TDLoss
	r.RewardLoss += other.RewardLoss
	r.MeanQ += other.MeanQ
	r.Steps += other.Steps
}

// scale divides the losses and mean value of r by n
func (r *Report) scale(n int) {
	r.TDLoss /= float64(n)
	r.RewardLoss /= float64(n)
	r.MeanQ /= float64(n)
}

// minibatches splits transitions into minibatches of size n
func minibatches(transitions []dataset.Transition,
	n int) ([][]dataset.Transition, error) {
	if len(transitions) == 0 || len(transitions)%n != 0 {
		return nil, errors.Errorf("minibatches: number of transitions must "+
			"be a positive multiple of the minibatch size\n\twant(k * %d)"+
			"\n\thave(%d)", n, len(transitions))
	}

	batches := make([][]dataset.Transition, 0, len(transitions)/n)
	for i := 0; i < len(transitions); i += n {
		batches = append(batches, transitions[i:i+n])
	}
	return batches, nil
}

// learner holds a network clone used for gradient steps, together with
// the nodes and values needed to compute its loss
type learner struct {
	net     network.QNetwork
	vm      G.VM
	solver  G.Solver
	targets *G.Node
	cost    G.Value
}

// newLearner adds a loss between the prediction of net and a new
// targets node of the given shape to net's graph, and compiles the
// graph. If selected is non-nil, it is a one-hot [batch, outputs] node
// selecting one prediction per row before the loss is computed.
func newLearner(net network.QNetwork, lossFn loss.Func, s G.Solver,
	selected *G.Node, targetShape ...int) (*learner, error) {
	g := net.Graph()

	pred := net.Prediction()
	if selected != nil {
		pred = G.Must(G.HadamardProd(pred, selected))
		pred = G.Must(G.Sum(pred, 1))
	}

	var targets *G.Node
	if len(targetShape) == 1 {
		targets = G.NewVector(g, tensor.Float64, G.WithShape(targetShape...),
			G.WithName("targets"), G.WithInit(G.Zeroes()))
	} else {
		targets = G.NewMatrix(g, tensor.Float64, G.WithShape(targetShape...),
			G.WithName("targets"), G.WithInit(G.Zeroes()))
	}

	cost, err := lossFn(pred, targets)
	if err != nil {
		return nil, errors.Wrap(err, "newLearner: could not compute loss")
	}

	l := &learner{net: net, solver: s, targets: targets}
	G.Read(cost, &l.cost)

	if _, err := G.Grad(cost, net.Learnables()...); err != nil {
		return nil, errors.Wrap(err, "newLearner: could not compute "+
			"gradient")
	}

	l.vm = G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))
	return l, nil
}

// step sets the targets, runs the graph and updates the weights. It
// returns the loss before the update.
func (l *learner) step(targets []float64) (float64, error) {
	t := tensor.New(
		tensor.WithBacking(targets),
		tensor.WithShape(l.targets.Shape()...),
	)
	if err := G.Let(l.targets, t); err != nil {
		return 0, errors.Wrap(err, "step: could not set targets")
	}

	defer l.vm.Reset()
	if err := l.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "step")
	}
	if err := l.solver.Step(l.net.Model()); err != nil {
		return 0, errors.Wrap(err, "step: could not update weights")
	}
	return l.cost.Data().(float64), nil
}

func (l *learner) close() error {
	return l.vm.Close()
}

// firstError returns the first non-nil error of errs
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

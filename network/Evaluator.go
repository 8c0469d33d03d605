package network

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// evalNet is a network clone used by an evaluator together with the VM
// that runs its graph
type evalNet[N QNetwork] struct {
	net N
	vm  G.VM
}

// evaluator evaluates a source network on any number of input rows.
// Networks have a fixed batch size, so a clone is kept for each row
// count seen so far. Clones are synced with the source before each run.
type evaluator[N QNetwork] struct {
	source N
	clone  func(rows int) (N, error)
	nets   map[int]*evalNet[N]
}

// get returns the synced clone for the given number of rows
func (e *evaluator[N]) get(rows int) (*evalNet[N], error) {
	if n, ok := e.nets[rows]; ok {
		if err := n.net.Set(e.source); err != nil {
			return nil, err
		}
		return n, nil
	}

	net, err := e.clone(rows)
	if err != nil {
		return nil, err
	}
	n := &evalNet[N]{net: net, vm: G.NewTapeMachine(net.Graph())}
	e.nets[rows] = n
	return n, nil
}

// run runs the clone's graph and returns a copy of its output
func (e *evaluator[N]) run(n *evalNet[N]) ([]float64, error) {
	defer n.vm.Reset()
	if err := n.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run")
	}
	out := n.net.Output().Data().([]float64)
	return append([]float64(nil), out...), nil
}

// Close releases the VMs of all clones, returning the first error
// encountered. Every VM is closed even if one fails.
func (e *evaluator[N]) Close() error {
	var first error
	for rows, n := range e.nets {
		if err := n.vm.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close: %d rows", rows)
		}
		delete(e.nets, rows)
	}
	return first
}

// ParametricEvaluator evaluates a ParametricQNetwork on any number of
// state-action pairs
type ParametricEvaluator struct {
	evaluator[*ParametricQNetwork]
}

// NewParametricEvaluator returns a new evaluator of source
func NewParametricEvaluator(source *ParametricQNetwork) *ParametricEvaluator {
	return &ParametricEvaluator{
		evaluator: evaluator[*ParametricQNetwork]{
			source: source,
			clone: func(rows int) (*ParametricQNetwork, error) {
				return source.CloneWithBatch(rows, false)
			},
			nets: make(map[int]*evalNet[*ParametricQNetwork]),
		},
	}
}

// Evaluate returns the row-major [rows, OutputDim()] predictions of the
// source network for the given row-major states and actions
func (p *ParametricEvaluator) Evaluate(state, action []float64) ([]float64,
	error) {
	stateDim, actionDim := p.source.StateDim(), p.source.ActionDim()
	if len(state)%stateDim != 0 {
		return nil, errors.Errorf("evaluate: state size %d is not a "+
			"multiple of the state dimension %d", len(state), stateDim)
	}
	rows := len(state) / stateDim
	if len(action) != rows*actionDim {
		return nil, errors.Errorf("evaluate: invalid action size"+
			"\n\twant(%d)\n\thave(%d)", rows*actionDim, len(action))
	}
	if rows == 0 {
		return nil, nil
	}

	n, err := p.get(rows)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	if err := n.net.SetInput(state, action); err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	return p.run(n)
}

// DiscreteEvaluator evaluates a DiscreteQNetwork on any number of
// inputs
type DiscreteEvaluator struct {
	evaluator[*DiscreteQNetwork]
}

// NewDiscreteEvaluator returns a new evaluator of source
func NewDiscreteEvaluator(source *DiscreteQNetwork) *DiscreteEvaluator {
	return &DiscreteEvaluator{
		evaluator: evaluator[*DiscreteQNetwork]{
			source: source,
			clone: func(rows int) (*DiscreteQNetwork, error) {
				return source.CloneWithBatch(rows, false)
			},
			nets: make(map[int]*evalNet[*DiscreteQNetwork]),
		},
	}
}

// Evaluate returns the row-major [rows, OutputDim()] predictions of the
// source network for rows inputs
func (d *DiscreteEvaluator) Evaluate(rows int, state []float64,
	bags [][]float64) ([]float64, error) {
	if rows < 0 {
		return nil, errors.Errorf("evaluate: invalid number of rows %d",
			rows)
	}
	if rows == 0 {
		return nil, nil
	}

	n, err := d.get(rows)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	if err := n.net.SetInput(state, bags); err != nil {
		return nil, errors.Wrap(err, "evaluate")
	}
	return d.run(n)
}

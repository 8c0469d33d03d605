// Package network implements Q-value networks as Gorgonia computational
// graphs with a fixed batch dimension.
package network

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// QNetwork is a network predicting one or more values for each row of
// a batch of inputs
type QNetwork interface {
	Graph() *G.ExprGraph
	BatchSize() int
	OutputDim() int
	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Prediction is the [BatchSize(), OutputDim()] output node and
	// Output its value after the graph has been run
	Prediction() *G.Node
	Output() G.Value

	Set(QNetwork) error
	Polyak(QNetwork, float64) error
	Weights() []Weight
	SetWeights([]Weight) error
	NumParameters() int
}

// Weight is the value of a single learnable node
type Weight struct {
	Name  string
	Shape []int
	Data  []float64
}

// qNetwork implements the parts of QNetwork that do not depend on the
// network inputs
type qNetwork struct {
	g         *G.ExprGraph
	batchSize int
	outputDim int

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// newQNetwork returns a new qNetwork with the given learnables and
// prediction node
func newQNetwork(g *G.ExprGraph, batchSize, outputDim int,
	learnables G.Nodes, prediction *G.Node) qNetwork {
	q := qNetwork{
		g:          g,
		batchSize:  batchSize,
		outputDim:  outputDim,
		learnables: learnables,
		prediction: prediction,
	}

	model := make([]G.ValueGrad, 0, len(learnables))
	for _, node := range learnables {
		model = append(model, node)
	}
	q.model = model

	return q
}

// read registers the prediction value to be read when the graph is
// run. It must be called on the final address of the network.
func (q *qNetwork) read() {
	G.Read(q.prediction, &q.predVal)
}

// Graph returns the computational graph of the network
func (q *qNetwork) Graph() *G.ExprGraph {
	return q.g
}

// BatchSize returns the batch size of inputs to the network
func (q *qNetwork) BatchSize() int {
	return q.batchSize
}

// OutputDim returns the number of values predicted for each input row
func (q *qNetwork) OutputDim() int {
	return q.outputDim
}

// Learnables returns the learnable nodes of the network
func (q *qNetwork) Learnables() G.Nodes {
	return q.learnables
}

// Model returns the learnables nodes with their gradients.
func (q *qNetwork) Model() []G.ValueGrad {
	return q.model
}

// Prediction returns the node of the computational graph the stores
// the output of the network
func (q *qNetwork) Prediction() *G.Node {
	return q.prediction
}

// Output returns the output of the network
func (q *qNetwork) Output() G.Value {
	return q.predVal
}

// checkCompatible ensures two networks have learnables of equal shapes
func (q *qNetwork) checkCompatible(source QNetwork) error {
	sourceNodes := source.Learnables()
	if len(sourceNodes) != len(q.learnables) {
		return errors.Errorf("incompatible networks: invalid number of "+
			"learnables\n\twant(%d)\n\thave(%d)", len(q.learnables),
			len(sourceNodes))
	}
	for i, node := range q.learnables {
		if !node.Shape().Eq(sourceNodes[i].Shape()) {
			return errors.Errorf("incompatible networks: invalid shape of "+
				"learnable %v\n\twant(%v)\n\thave(%v)", node.Name(),
				node.Shape(), sourceNodes[i].Shape())
		}
	}
	return nil
}

// Set sets the weights of the network to be equal to the weights of
// another network
func (q *qNetwork) Set(source QNetwork) error {
	if err := q.checkCompatible(source); err != nil {
		return errors.Wrap(err, "set")
	}

	sourceNodes := source.Learnables()
	for i, destLearnable := range q.learnables {
		sourceValue, err := G.CloneValue(sourceNodes[i].Value())
		if err != nil {
			return errors.Wrap(err, "set")
		}
		if err := G.Let(destLearnable, sourceValue); err != nil {
			return errors.Wrap(err, "set")
		}
	}
	return nil
}

// Polyak sets the weights of the network to be a polyak average
// between its existing weights and the weights of another network
func (q *qNetwork) Polyak(source QNetwork, tau float64) error {
	if err := q.checkCompatible(source); err != nil {
		return errors.Wrap(err, "polyak")
	}

	sourceNodes := source.Learnables()
	for i := range q.learnables {
		weights := q.learnables[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(q.learnables[i], newWeights); err != nil {
			return errors.Wrap(err, "polyak")
		}
	}
	return nil
}

// Weights returns a copy of the value of each learnable
func (q *qNetwork) Weights() []Weight {
	weights := make([]Weight, len(q.learnables))
	for i, node := range q.learnables {
		data := node.Value().Data().([]float64)
		weights[i] = Weight{
			Name:  node.Name(),
			Shape: append([]int(nil), node.Shape()...),
			Data:  append([]float64(nil), data...),
		}
	}
	return weights
}

// SetWeights sets the learnables to weights previously returned by
// Weights on a network of the same architecture
func (q *qNetwork) SetWeights(weights []Weight) error {
	if len(weights) != len(q.learnables) {
		return errors.Errorf("setWeights: invalid number of weights"+
			"\n\twant(%d)\n\thave(%d)", len(q.learnables), len(weights))
	}

	for i, node := range q.learnables {
		w := weights[i]
		if w.Name != node.Name() {
			return errors.Errorf("setWeights: invalid weight name"+
				"\n\twant(%v)\n\thave(%v)", node.Name(), w.Name)
		}
		if !node.Shape().Eq(tensor.Shape(w.Shape)) {
			return errors.Errorf("setWeights: invalid shape of weight %v"+
				"\n\twant(%v)\n\thave(%v)", w.Name, node.Shape(), w.Shape)
		}
		if len(w.Data) != node.Shape().TotalSize() {
			return errors.Errorf("setWeights: invalid size of weight %v"+
				"\n\twant(%d)\n\thave(%d)", w.Name,
				node.Shape().TotalSize(), len(w.Data))
		}

		t := tensor.New(
			tensor.WithShape(w.Shape...),
			tensor.WithBacking(append([]float64(nil), w.Data...)),
		)
		if err := G.Let(node, t); err != nil {
			return errors.Wrapf(err, "setWeights: %v", w.Name)
		}
	}
	return nil
}

// NumParameters returns the number of learned scalars in the network
func (q *qNetwork) NumParameters() int {
	n := 0
	for _, node := range q.learnables {
		n += node.Shape().TotalSize()
	}
	return n
}

// setMatrix sets the value of a [rows, cols] input node
func setMatrix(node *G.Node, rows, cols int, data []float64) error {
	if len(data) != rows*cols {
		return errors.Errorf("invalid number of inputs for %v\n\twant(%v)"+
			"\n\thave(%v)", node.Name(), rows*cols, len(data))
	}
	t := tensor.New(
		tensor.WithBacking(data),
		tensor.WithShape(rows, cols),
	)
	return G.Let(node, t)
}

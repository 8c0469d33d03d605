package network

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// IDListJoiner joins dense state features with learned embeddings of
// id-list features. Each id-list feature is given to the graph as a
// mean-pooled bag of shape [batch, vocab]; multiplying the bag with a
// learned [vocab, dim] table yields the mean of the embeddings of the
// ids in the list.
type IDListJoiner struct {
	stateDim     int
	embeddingDim int
	vocabSizes   []int

	bags   []*G.Node
	tables []*G.Node
}

// NewIDListJoiner adds the embedding tables and bag inputs of an
// IDListJoiner to g
func NewIDListJoiner(g *G.ExprGraph, batch, stateDim, embeddingDim int,
	vocabSizes []int, init G.InitWFn) (*IDListJoiner, error) {
	if stateDim < 0 {
		return nil, errors.Errorf("newIDListJoiner: invalid state "+
			"dimension\n\twant(>= 0)\n\thave(%d)", stateDim)
	}
	if len(vocabSizes) > 0 && embeddingDim <= 0 {
		return nil, errors.Errorf("newIDListJoiner: invalid embedding "+
			"dimension\n\twant(> 0)\n\thave(%d)", embeddingDim)
	}

	bags := make([]*G.Node, len(vocabSizes))
	tables := make([]*G.Node, len(vocabSizes))
	for i, vocab := range vocabSizes {
		if vocab <= 0 {
			return nil, errors.Errorf("newIDListJoiner: id-list feature "+
				"%d has an empty vocabulary", i)
		}
		bags[i] = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(batch, vocab),
			G.WithName(fmt.Sprintf("id_list_bag_%d", i)),
			G.WithInit(G.Zeroes()),
		)
		tables[i] = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(vocab, embeddingDim),
			G.WithName(fmt.Sprintf("id_list_embedding_%d", i)),
			G.WithInit(init),
		)
	}

	return &IDListJoiner{
		stateDim:     stateDim,
		embeddingDim: embeddingDim,
		vocabSizes:   vocabSizes,
		bags:         bags,
		tables:       tables,
	}, nil
}

// OutputDim returns the number of features output by the joiner
func (j *IDListJoiner) OutputDim() int {
	return j.stateDim + len(j.tables)*j.embeddingDim
}

// fwd concatenates the state node with the embedding of each bag
func (j *IDListJoiner) fwd(state *G.Node) (*G.Node, error) {
	inputs := make(G.Nodes, 0, len(j.tables)+1)
	if state != nil {
		inputs = append(inputs, state)
	}

	for i := range j.tables {
		embedded, err := G.Mul(j.bags[i], j.tables[i])
		if err != nil {
			return nil, errors.Wrapf(err, "fwd: could not embed id-list "+
				"feature %d", i)
		}
		inputs = append(inputs, embedded)
	}

	switch len(inputs) {
	case 0:
		return nil, errors.New("fwd: joiner has no inputs")
	case 1:
		return inputs[0], nil
	default:
		return G.Concat(1, inputs...)
	}
}

// setBags sets the bag input nodes. bags[i] holds the row-major
// [batch, vocab] bag of the i-th id-list feature.
func (j *IDListJoiner) setBags(batch int, bags [][]float64) error {
	if len(bags) != len(j.bags) {
		return errors.Errorf("setBags: invalid number of id-list features"+
			"\n\twant(%d)\n\thave(%d)", len(j.bags), len(bags))
	}
	for i, bag := range bags {
		if len(bag) != batch*j.vocabSizes[i] {
			return errors.Errorf("setBags: invalid size of bag %d"+
				"\n\twant(%d)\n\thave(%d)", i, batch*j.vocabSizes[i],
				len(bag))
		}
		t := tensor.New(
			tensor.WithBacking(bag),
			tensor.WithShape(batch, j.vocabSizes[i]),
		)
		if err := G.Let(j.bags[i], t); err != nil {
			return errors.Wrapf(err, "setBags: bag %d", i)
		}
	}
	return nil
}

// Learnables returns the embedding tables
func (j *IDListJoiner) Learnables() G.Nodes {
	return append(G.Nodes(nil), j.tables...)
}

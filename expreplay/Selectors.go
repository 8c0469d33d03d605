package expreplay

import (
	"math/rand"

	"github.com/pkg/errors"
)

// SelectorType names a method of selecting data from a buffer
type SelectorType string

// Available selectors
const (
	Uniform SelectorType = "Uniform"
	Fifo    SelectorType = "Fifo"
)

// Selector picks buffer slots, either to evict or to sample
type Selector interface {
	// choose returns occupied slots of c
	choose(c *cache) []int

	// BatchSize is the number of slots choose returns when sampling
	BatchSize() int

	// registerAsRemover marks the Selector as the buffer's remover.
	// Removers never return a slot twice.
	registerAsRemover()
}

// CreateSelector returns a new Selector of type t selecting samples
// elements at a time
func CreateSelector(t SelectorType, samples int, seed int64) (Selector,
	error) {
	if samples <= 0 {
		return nil, errors.Errorf("createSelector: invalid number of "+
			"samples\n\twant(> 0)\n\thave(%v)", samples)
	}

	switch t {
	case Uniform:
		return NewUniformSelector(samples, seed), nil
	case Fifo:
		return NewFifoSelector(samples), nil
	default:
		return nil, errors.Errorf("createSelector: unknown selector %q", t)
	}
}

// uniformSelector draws slots uniformly at random
type uniformSelector struct {
	samples int
	rng     *rand.Rand

	// A remover selects without replacement
	remover bool
}

// NewUniformSelector returns a Selector drawing samples slots uniformly
// at random. As a sampler it draws with replacement.
func NewUniformSelector(samples int, seed int64) Selector {
	return &uniformSelector{
		samples: samples,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (u *uniformSelector) registerAsRemover() { u.remover = true }
func (u *uniformSelector) BatchSize() int     { return u.samples }

func (u *uniformSelector) choose(c *cache) []int {
	used := c.sampleFrom()

	if u.remover {
		perm := u.rng.Perm(len(used))[:min(u.samples, len(used))]
		for i, j := range perm {
			perm[i] = used[j]
		}
		return perm
	}

	slots := make([]int, u.samples)
	for i := range slots {
		slots[i] = used[u.rng.Intn(len(used))]
	}
	return slots
}

// fifoSelector picks the oldest slots first
type fifoSelector struct {
	samples int
	remover bool
}

// NewFifoSelector returns a Selector picking the samples oldest slots.
// As a sampler it cycles through the oldest slots when the buffer holds
// fewer than samples transitions.
func NewFifoSelector(samples int) Selector {
	return &fifoSelector{samples: samples}
}

func (f *fifoSelector) registerAsRemover() { f.remover = true }
func (f *fifoSelector) BatchSize() int     { return f.samples }

func (f *fifoSelector) choose(c *cache) []int {
	oldest := c.insertOrder(f.samples)
	if f.remover {
		return oldest
	}

	slots := make([]int, f.samples)
	for i := range slots {
		slots[i] = oldest[i%len(oldest)]
	}
	return slots
}

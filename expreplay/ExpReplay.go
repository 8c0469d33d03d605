// Package expreplay implements experience replay buffers over logged
// transitions.
package expreplay

import (
	"container/list"
	"fmt"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/offlineq/dataset"
	"golang.org/x/exp/slices"
)

// Config describes an ExperienceReplayer
type Config struct {
	RemoveMethod      SelectorType `json:"remove_method"`
	SampleMethod      SelectorType `json:"sample_method"`
	RemoveSize        int          `json:"remove_size"`
	SampleSize        int          `json:"sample_size"`
	MaxReplayCapacity int          `json:"max_replay_capacity"`
	MinReplayCapacity int          `json:"min_replay_capacity"`
}

// DefaultConfig returns a Config that removes the oldest transition
// when full and samples uniformly. The sample size is left unset.
func DefaultConfig() Config {
	return Config{
		RemoveMethod:      Fifo,
		SampleMethod:      Uniform,
		RemoveSize:        1,
		MaxReplayCapacity: 100_000,
		MinReplayCapacity: 1,
	}
}

// Validate checks the Config for errors
func (c Config) Validate() error {
	if c.MinReplayCapacity <= 0 {
		return errors.Errorf("validate: invalid min capacity"+
			"\n\twant(> 0)\n\thave(%v)", c.MinReplayCapacity)
	}
	if c.MaxReplayCapacity < c.MinReplayCapacity {
		return errors.Errorf("validate: max capacity below min capacity"+
			"\n\twant(>= %v)\n\thave(%v)", c.MinReplayCapacity,
			c.MaxReplayCapacity)
	}
	if c.RemoveSize > c.MaxReplayCapacity {
		return errors.Errorf("validate: cannot remove more than the max "+
			"capacity\n\twant(<= %v)\n\thave(%v)", c.MaxReplayCapacity,
			c.RemoveSize)
	}
	return nil
}

// Create validates the Config and builds its ExperienceReplayer
func (c Config) Create(seed int64) (ExperienceReplayer, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "create")
	}
	return Factory(c.RemoveMethod, c.SampleMethod, c.MinReplayCapacity,
		c.MaxReplayCapacity, c.RemoveSize, c.SampleSize, seed)
}

// ExperienceReplayer stores transitions and samples minibatches of them
type ExperienceReplayer interface {
	// Add stores t, evicting transitions with the remover if the
	// buffer is full
	Add(t dataset.Transition) error

	// Sample draws a minibatch using the sampler
	Sample() ([]dataset.Transition, error)

	// Capacity is the number of stored transitions
	Capacity() int

	// MaxCapacity bounds Capacity
	MaxCapacity() int

	// MinCapacity is the number of stored transitions needed before
	// Sample succeeds
	MinCapacity() int

	// BatchSize is the length of each minibatch Sample returns
	BatchSize() int
}

// cache is the slot-based ExperienceReplayer returned by New
type cache struct {
	transitions []dataset.Transition

	// free is a stack of unused slots; used lists occupied slots
	free []int
	used []int

	// Occupied slots, oldest insert at the front. elements maps each
	// occupied slot to its list element.
	orderOfInsert *list.List
	elements      map[int]*list.Element

	remover Selector
	sampler Selector

	minCapacity int
	maxCapacity int
}

// Factory constructs the remover and sampler Selectors and returns a
// buffer using them. The sampler is seeded with seed+1.
func Factory(removeMethod, sampleMethod SelectorType, minCapacity,
	maxCapacity, removeSize, sampleSize int,
	seed int64) (ExperienceReplayer, error) {
	remover, err := CreateSelector(removeMethod, removeSize, seed)
	if err != nil {
		return nil, errors.Wrap(err, "factory: remover")
	}
	sampler, err := CreateSelector(sampleMethod, sampleSize, seed+1)
	if err != nil {
		return nil, errors.Wrap(err, "factory: sampler")
	}

	return New(remover, sampler, minCapacity, maxCapacity)
}

// New returns a buffer holding at most maxCapacity transitions. remover
// picks the transitions evicted from a full buffer and sampler picks
// the transitions of each minibatch.
func New(remover, sampler Selector, minCapacity,
	maxCapacity int) (ExperienceReplayer, error) {
	if minCapacity <= 0 {
		return nil, errors.Errorf("new: invalid min capacity"+
			"\n\twant(> 0)\n\thave(%v)", minCapacity)
	}
	if maxCapacity < minCapacity {
		return nil, errors.Errorf("new: max capacity below min capacity"+
			"\n\twant(>= %v)\n\thave(%v)", minCapacity, maxCapacity)
	}

	remover.registerAsRemover()

	// Slots are handed out lowest first
	free := make([]int, maxCapacity)
	for i := range free {
		free[i] = maxCapacity - 1 - i
	}

	return &cache{
		transitions:   make([]dataset.Transition, maxCapacity),
		free:          free,
		used:          make([]int, 0, maxCapacity),
		orderOfInsert: list.New(),
		elements:      make(map[int]*list.Element, maxCapacity),
		remover:       remover,
		sampler:       sampler,
		minCapacity:   minCapacity,
		maxCapacity:   maxCapacity,
	}, nil
}

func (c *cache) sampleFrom() []int {
	return c.used
}

// insertOrder returns the slots of the oldest min(n, Capacity())
// transitions, oldest first
func (c *cache) insertOrder(n int) []int {
	order := make([]int, 0, min(n, c.Capacity()))
	for e := c.orderOfInsert.Front(); e != nil && len(order) < cap(order); e = e.Next() {
		order = append(order, e.Value.(int))
	}
	return order
}

func (c *cache) String() string {
	return fmt.Sprintf("expreplay{used: %v, free: %v}", c.used, c.free)
}

func (c *cache) BatchSize() int   { return c.sampler.BatchSize() }
func (c *cache) Capacity() int    { return len(c.used) }
func (c *cache) MaxCapacity() int { return c.maxCapacity }
func (c *cache) MinCapacity() int { return c.minCapacity }

// evict frees the slots chosen by the remover
func (c *cache) evict() error {
	if c.Capacity() == 0 {
		return &ExpReplayError{Op: "evict", Err: errEmptyCache}
	}

	for _, slot := range c.remover.choose(c) {
		if i := slices.Index(c.used, slot); i >= 0 {
			last := len(c.used) - 1
			c.used[i] = c.used[last]
			c.used = c.used[:last]
		}
		if e, ok := c.elements[slot]; ok {
			c.orderOfInsert.Remove(e)
			delete(c.elements, slot)
		}

		c.transitions[slot] = dataset.Transition{}
		c.free = append(c.free, slot)
	}
	return nil
}

func (c *cache) Sample() ([]dataset.Transition, error) {
	switch {
	case c.Capacity() == 0:
		return nil, &ExpReplayError{Op: "sample", Err: errEmptyCache}
	case c.Capacity() < c.MinCapacity():
		return nil, &ExpReplayError{Op: "sample", Err: errInsufficientSamples}
	}

	slots := c.sampler.choose(c)
	batch := make([]dataset.Transition, len(slots))
	for i, slot := range slots {
		batch[i] = c.transitions[slot]
	}
	return batch, nil
}

func (c *cache) Add(t dataset.Transition) error {
	if c.Capacity() >= c.maxCapacity {
		if err := c.evict(); err != nil {
			return errors.Wrap(err, "add")
		}
	}

	top := len(c.free) - 1
	slot := c.free[top]
	c.free = c.free[:top]

	c.used = append(c.used, slot)
	c.elements[slot] = c.orderOfInsert.PushBack(slot)
	c.transitions[slot] = t
	return nil
}

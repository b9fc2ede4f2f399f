package markov

import (
	"errors"
	"fmt"

	"github.com/zurustar/markov-music/pkg/event"
)

var (
	// ErrNoMappings is returned when there is nothing to generate from:
	// the table is empty, or the walk dead-ends on its first step.
	ErrNoMappings = errors.New("no mappings available to generate music")

	// ErrInvalidOrder is returned for a chain order below 1.
	ErrInvalidOrder = errors.New("invalid chain order")
)

// Builder accumulates a transition table from event sequences.
type Builder struct {
	order int
	table *Table
	built bool
}

// NewBuilder creates a Builder for contexts of the given order.
func NewBuilder(order int) (*Builder, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidOrder, order)
	}
	return &Builder{
		order: order,
		table: newTable(order),
	}, nil
}

// Order returns the context length this builder records.
func (b *Builder) Order() int {
	return b.order
}

// Add records every (context, successor) pair of seq and returns how many
// were recorded. Each call is independent: the tail of one sequence is
// never chained to the head of the next. A sequence shorter than order+1
// contributes nothing.
func (b *Builder) Add(seq []event.Event) int {
	if b.built {
		panic("markov: Builder.Add called after Build")
	}
	added := 0
	for i := 0; i+b.order < len(seq); i++ {
		b.table.add(NewContext(seq[i:i+b.order]), seq[i+b.order], 1)
		added++
	}
	return added
}

// Build hands the table over to the caller. The builder must not be used
// afterwards. An empty table is reported as ErrNoMappings.
func (b *Builder) Build() (*Table, error) {
	if b.built {
		panic("markov: Builder.Build called twice")
	}
	b.built = true
	t := b.table
	b.table = nil
	if t.Len() == 0 {
		return t, ErrNoMappings
	}
	return t, nil
}

// Build is a shorthand for NewBuilder, Add for every sequence, then Build.
func Build(sequences [][]event.Event, order int) (*Table, error) {
	b, err := NewBuilder(order)
	if err != nil {
		return nil, err
	}
	for _, seq := range sequences {
		b.Add(seq)
	}
	return b.Build()
}

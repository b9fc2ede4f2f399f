package markov

import (
	"fmt"

	"github.com/zurustar/markov-music/pkg/event"
)

// Successors is the multiset of events observed right after one context.
// Events keep the order in which they were first seen; counts are always
// positive.
type Successors struct {
	events []event.Event
	counts []int
	index  map[event.Event]int
	total  int
}

func newSuccessors() *Successors {
	return &Successors{index: make(map[event.Event]int)}
}

func (s *Successors) add(e event.Event, n int) {
	if i, ok := s.index[e]; ok {
		s.counts[i] += n
	} else {
		s.index[e] = len(s.events)
		s.events = append(s.events, e)
		s.counts = append(s.counts, n)
	}
	s.total += n
}

// Len returns the number of distinct successors.
func (s *Successors) Len() int {
	return len(s.events)
}

// Total returns the sum of all counts.
func (s *Successors) Total() int {
	return s.total
}

// Count returns how often e followed the context, 0 if never.
func (s *Successors) Count(e event.Event) int {
	if i, ok := s.index[e]; ok {
		return s.counts[i]
	}
	return 0
}

// Each calls fn for every successor in insertion order.
func (s *Successors) Each(fn func(e event.Event, count int)) {
	for i, e := range s.events {
		fn(e, s.counts[i])
	}
}

// pick returns the first successor whose cumulative count exceeds r,
// for r in [0, Total()).
func (s *Successors) pick(r int) event.Event {
	cumulative := 0
	for i, c := range s.counts {
		cumulative += c
		if r < cumulative {
			return s.events[i]
		}
	}
	// r out of range: callers draw from [0, total).
	panic(fmt.Sprintf("markov: draw %d outside [0, %d)", r, s.total))
}

// Table maps contexts to their observed successors. A Table handed out by
// Builder.Build is read-only.
type Table struct {
	order       int
	contexts    []Context
	entries     map[Context]*Successors
	transitions int
}

func newTable(order int) *Table {
	return &Table{
		order:   order,
		entries: make(map[Context]*Successors),
	}
}

func (t *Table) add(c Context, e event.Event, n int) {
	s, ok := t.entries[c]
	if !ok {
		s = newSuccessors()
		t.entries[c] = s
		t.contexts = append(t.contexts, c)
	}
	s.add(e, n)
	t.transitions += n
}

// Order returns the context length.
func (t *Table) Order() int {
	return t.order
}

// Len returns the number of distinct contexts.
func (t *Table) Len() int {
	return len(t.contexts)
}

// Transitions returns the total number of recorded (context, successor)
// observations.
func (t *Table) Transitions() int {
	return t.transitions
}

// Contexts returns all contexts in first-seen order.
func (t *Table) Contexts() []Context {
	out := make([]Context, len(t.contexts))
	copy(out, t.contexts)
	return out
}

// Successors returns the successors of c.
func (t *Table) Successors(c Context) (*Successors, bool) {
	s, ok := t.entries[c]
	return s, ok
}

// Count returns how often e was observed after c.
func (t *Table) Count(c Context, e event.Event) int {
	if s, ok := t.entries[c]; ok {
		return s.Count(e)
	}
	return 0
}

// Total returns the number of observations recorded under c.
func (t *Table) Total(c Context) int {
	if s, ok := t.entries[c]; ok {
		return s.Total()
	}
	return 0
}

// Contains reports whether e was ever observed after c.
func (t *Table) Contains(c Context, e event.Event) bool {
	return t.Count(c, e) > 0
}

// Merge returns a new table holding the count-wise union of t and other.
// Both tables must have the same order.
func (t *Table) Merge(other *Table) (*Table, error) {
	if t.order != other.order {
		return nil, fmt.Errorf("%w: cannot merge order %d with order %d", ErrInvalidOrder, t.order, other.order)
	}
	merged := newTable(t.order)
	for _, src := range []*Table{t, other} {
		for _, c := range src.contexts {
			src.entries[c].Each(func(e event.Event, n int) {
				merged.add(c, e, n)
			})
		}
	}
	return merged, nil
}

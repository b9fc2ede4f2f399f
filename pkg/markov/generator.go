package markov

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/zurustar/markov-music/pkg/event"
)

// ErrInvalidLength is returned for a maximum output length below 1.
var ErrInvalidLength = errors.New("invalid maximum length")

// ErrInvalidStartContext is returned when Options.StartContext does not
// match the table's order.
var ErrInvalidStartContext = errors.New("invalid start context")

// DefaultMaxLength caps the output when nothing else is configured. The
// context graph usually contains cycles, so the cap is the only guaranteed
// stop.
const DefaultMaxLength = 500

// RandSource is the random number source used by the generator.
// *rand.Rand from math/rand/v2 satisfies it.
type RandSource interface {
	// IntN returns a uniform int in [0, n). It panics if n <= 0.
	IntN(n int) int
}

// NewRand returns a seeded PCG source. The same seed yields the same walk
// over the same table.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// StartPolicy selects how the first context is picked.
type StartPolicy int

const (
	// StartUniform picks uniformly among the distinct contexts.
	StartUniform StartPolicy = iota
	// StartWeighted picks a context proportionally to its outgoing count.
	StartWeighted
)

// ParseStartPolicy parses "uniform" or "weighted".
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch strings.ToLower(s) {
	case "", "uniform":
		return StartUniform, nil
	case "weighted":
		return StartWeighted, nil
	}
	return StartUniform, fmt.Errorf("unknown start policy: %q (must be uniform or weighted)", s)
}

func (p StartPolicy) String() string {
	if p == StartWeighted {
		return "weighted"
	}
	return "uniform"
}

// Options configures a generation run.
type Options struct {
	// MaxLength bounds the number of output events, start context included.
	MaxLength int
	Start     StartPolicy
	// StartContext, when set, replaces the Start policy. It must hold
	// exactly order events; a context without successors is a dead end on
	// the first step.
	StartContext Context
}

// DefaultOptions returns a uniform start and DefaultMaxLength.
func DefaultOptions() Options {
	return Options{MaxLength: DefaultMaxLength, Start: StartUniform}
}

// Termination tells why a walk stopped.
type Termination int

const (
	ReasonMaxLength Termination = iota + 1
	ReasonDeadEnd
	ReasonEmptyTable
)

func (r Termination) String() string {
	switch r {
	case ReasonMaxLength:
		return "max length reached"
	case ReasonDeadEnd:
		return "dead end"
	case ReasonEmptyTable:
		return "empty table"
	}
	return "unknown"
}

// Result is the outcome of one walk.
type Result struct {
	// Events starts with the start context's events followed by every
	// sampled successor.
	Events []event.Event
	Start  Context
	Reason Termination
	// Steps counts sampled successors.
	Steps int
}

type genState int

const (
	stateStart genState = iota
	stateGenerating
	stateTerminated
)

// Generator performs weighted random walks over a read-only table.
type Generator struct {
	table *Table
	rng   RandSource
	opts  Options
}

// NewGenerator checks the options and returns a generator over t.
func NewGenerator(t *Table, rng RandSource, opts Options) (*Generator, error) {
	if opts.MaxLength < 1 {
		return nil, fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidLength, opts.MaxLength)
	}
	if rng == nil {
		return nil, errors.New("markov: nil random source")
	}
	if !opts.StartContext.IsZero() && t != nil && opts.StartContext.Len() != t.Order() {
		return nil, fmt.Errorf("%w: %d events, table order is %d",
			ErrInvalidStartContext, opts.StartContext.Len(), t.Order())
	}
	return &Generator{table: t, rng: rng, opts: opts}, nil
}

// Generate runs one walk: pick a start context, then repeatedly sample a
// successor and slide the window until the length cap or a dead end.
func (g *Generator) Generate() (Result, error) {
	var (
		res     Result
		current Context
		state   = stateStart
	)

	for state != stateTerminated {
		switch state {
		case stateStart:
			if g.table == nil || g.table.Len() == 0 {
				res.Reason = ReasonEmptyTable
				return res, ErrNoMappings
			}
			current = g.pickStart()
			res.Start = current
			res.Events = current.Events()
			if len(res.Events) >= g.opts.MaxLength {
				res.Events = res.Events[:g.opts.MaxLength]
				res.Reason = ReasonMaxLength
				state = stateTerminated
				continue
			}
			state = stateGenerating

		case stateGenerating:
			succ, ok := g.table.Successors(current)
			if !ok || succ.Total() == 0 {
				res.Reason = ReasonDeadEnd
				if res.Steps == 0 {
					return res, ErrNoMappings
				}
				state = stateTerminated
				continue
			}
			next := succ.pick(g.rng.IntN(succ.Total()))
			res.Events = append(res.Events, next)
			res.Steps++
			current = current.Slide(next)
			if len(res.Events) >= g.opts.MaxLength {
				res.Reason = ReasonMaxLength
				state = stateTerminated
			}
		}
	}
	return res, nil
}

func (g *Generator) pickStart() Context {
	if !g.opts.StartContext.IsZero() {
		return g.opts.StartContext
	}
	contexts := g.table.contexts
	if g.opts.Start == StartWeighted {
		r := g.rng.IntN(g.table.transitions)
		for _, c := range contexts {
			r -= g.table.entries[c].Total()
			if r < 0 {
				return c
			}
		}
	}
	return contexts[g.rng.IntN(len(contexts))]
}

// Generate is a shorthand for NewGenerator followed by Generate.
func Generate(t *Table, rng RandSource, opts Options) (Result, error) {
	g, err := NewGenerator(t, rng, opts)
	if err != nil {
		return Result{}, err
	}
	return g.Generate()
}

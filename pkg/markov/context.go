// Package markov implements the fixed-order Markov model over note events:
// contexts, the transition table, the chain builder and the generator.
package markov

import (
	"encoding/binary"
	"strings"

	"github.com/zurustar/markov-music/pkg/event"
)

// eventSize is the encoded size of one event inside a Context key:
// pitch(1) program(1) velocity(8) duration(8) offset(8) tempo(8) release(8).
const eventSize = 42

// Context is an immutable window of consecutive events, the model's state.
//
// The events are stored in a fixed-width binary form inside a string, so a
// Context is comparable and can be used as a map key directly. Sliding never
// modifies the receiver; it returns a new Context.
type Context struct {
	key string
}

// NewContext builds a Context from events, oldest first.
func NewContext(events []event.Event) Context {
	buf := make([]byte, 0, len(events)*eventSize)
	for _, e := range events {
		buf = appendEvent(buf, e)
	}
	return Context{key: string(buf)}
}

// Len returns the number of events in the window.
func (c Context) Len() int {
	return len(c.key) / eventSize
}

// IsZero reports whether c holds no events.
func (c Context) IsZero() bool {
	return c.key == ""
}

// At returns the i-th event, 0 being the oldest.
func (c Context) At(i int) event.Event {
	return decodeEvent(c.key[i*eventSize : (i+1)*eventSize])
}

// Events returns a copy of the window, oldest first.
func (c Context) Events() []event.Event {
	events := make([]event.Event, c.Len())
	for i := range events {
		events[i] = c.At(i)
	}
	return events
}

// Slide drops the oldest event and appends e, keeping the length.
func (c Context) Slide(e event.Event) Context {
	if c.IsZero() {
		return c
	}
	buf := make([]byte, 0, len(c.key))
	buf = append(buf, c.key[eventSize:]...)
	buf = appendEvent(buf, e)
	return Context{key: string(buf)}
}

func (c Context) String() string {
	parts := make([]string, 0, c.Len())
	for _, e := range c.Events() {
		parts = append(parts, event.NoteName(e.Pitch))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func appendEvent(buf []byte, e event.Event) []byte {
	buf = append(buf, e.Pitch, e.Program)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Velocity))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Duration))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.StartOffset))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Tempo))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.ReleaseVelocity))
	return buf
}

func decodeEvent(s string) event.Event {
	b := []byte(s)
	return event.Event{
		Pitch:       b[0],
		Program:     b[1],
		Velocity:    int64(binary.BigEndian.Uint64(b[2:10])),
		Duration:    int64(binary.BigEndian.Uint64(b[10:18])),
		StartOffset: int64(binary.BigEndian.Uint64(b[18:26])),
		Tempo:       int64(binary.BigEndian.Uint64(b[26:34])),

		ReleaseVelocity: int64(binary.BigEndian.Uint64(b[34:42])),
	}
}

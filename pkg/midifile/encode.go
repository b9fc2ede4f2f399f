package midifile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/zurustar/markov-music/pkg/event"
	"github.com/zurustar/markov-music/pkg/fileutil"
)

// ErrNoEvents is returned when asked to encode an empty sequence.
var ErrNoEvents = errors.New("no events to encode")

// DefaultTrackName names the output track when EncodeOptions leaves it empty.
const DefaultTrackName = "midifile track"

// gmSystemOn is the universal "General MIDI System On" sysex payload.
var gmSystemOn = []byte{0x7E, 0x7F, 0x09, 0x01}

// EncodeOptions controls encoding.
type EncodeOptions struct {
	// Resolution is the ticks per quarter note of the events (DefaultResolution if 0).
	Resolution int
	TrackName  string
	// Channel receives every note (0-15).
	Channel uint8
}

func (o EncodeOptions) resolution() int {
	if o.Resolution <= 0 {
		return DefaultResolution
	}
	return o.Resolution
}

// Message priorities at equal ticks. Note-offs go before note-ons so a
// repeated pitch is released before it is struck again.
const (
	prioHeader = iota
	prioNoteOff
	prioControl
	prioNoteOn
)

type timedMessage struct {
	tick int64
	prio int
	seq  int
	msg  []byte
}

// Encode writes events as a single-track SMF. Each event starts StartOffset
// ticks after the previous one; tempo and program changes are emitted only
// when they differ from the running value.
func Encode(w io.Writer, events []event.Event, opts EncodeOptions) error {
	if len(events) == 0 {
		return ErrNoEvents
	}

	name := opts.TrackName
	if name == "" {
		name = DefaultTrackName
	}
	ch := opts.Channel & 0x0f

	var msgs []timedMessage
	push := func(tick int64, prio int, msg []byte) {
		msgs = append(msgs, timedMessage{tick: tick, prio: prio, seq: len(msgs), msg: msg})
	}

	push(0, prioHeader, midi.SysEx(gmSystemOn))
	push(0, prioHeader, smf.MetaTrackSequenceName(name))
	push(0, prioHeader, midi.ControlChange(ch, 0x7D, 0)) // omni on
	push(0, prioHeader, midi.ControlChange(ch, 0x7F, 0)) // poly on
	push(0, prioHeader, midi.ProgramChange(ch, events[0].Program&0x7f))

	var (
		tick    int64
		tempo   int64 = -1
		program       = events[0].Program & 0x7f
	)
	for i, e := range events {
		if i > 0 {
			tick += max(e.StartOffset, 0)
		}
		if e.Tempo > 0 && e.Tempo != tempo {
			push(tick, prioControl, smf.MetaTempo(60000000/float64(e.Tempo)))
			tempo = e.Tempo
		}
		if p := e.Program & 0x7f; p != program {
			push(tick, prioControl, midi.ProgramChange(ch, p))
			program = p
		}

		key := e.Pitch & 0x7f
		push(tick, prioNoteOn, midi.NoteOn(ch, key, clampVelocity(e.Velocity)))
		push(tick+max(e.Duration, 1), prioNoteOff, midi.NoteOffVelocity(ch, key, clampRelease(e.ReleaseVelocity)))
	}

	if tempo < 0 {
		push(0, prioHeader, smf.MetaTempo(60000000/float64(DefaultTempo)))
	}

	sort.SliceStable(msgs, func(a, b int) bool {
		if msgs[a].tick != msgs[b].tick {
			return msgs[a].tick < msgs[b].tick
		}
		if msgs[a].prio != msgs[b].prio {
			return msgs[a].prio < msgs[b].prio
		}
		return msgs[a].seq < msgs[b].seq
	})

	var track smf.Track
	var prev int64
	for _, m := range msgs {
		track.Add(uint32(m.tick-prev), m.msg)
		prev = m.tick
	}
	track.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(opts.resolution())
	if err := s.Add(track); err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write MIDI data: %w", err)
	}
	return nil
}

// WriteFile encodes events to path. The data goes to a temporary file that
// is renamed over path only after a successful encode.
func WriteFile(path string, events []event.Event, opts EncodeOptions) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	return fileutil.WriteFileAtomic(path, func(f *os.File) error {
		return Encode(f, events, opts)
	})
}

// clampRelease keeps note-off velocity in 0..127.
func clampRelease(v int64) uint8 {
	return uint8(min(max(v, 0), 127))
}

// clampVelocity keeps note-on velocity in 1..127. A velocity of 0 would be
// read back as a note-off.
func clampVelocity(v int64) uint8 {
	switch {
	case v < 1:
		return 1
	case v > 127:
		return 127
	}
	return uint8(v)
}

// Package event defines the canonical note event the Markov model works on.
//
// An Event is a small comparable value. Two events with the same quantized
// fields are the same state as far as the model is concerned, so Event can be
// used directly as a map key.
package event

import (
	"errors"
	"fmt"

	"github.com/zurustar/markov-music/pkg/quantize"
)

var (
	// ErrPitchOutOfRange is returned for a pitch or program outside 0-127.
	ErrPitchOutOfRange = errors.New("value outside MIDI range 0-127")

	// ErrNegativeValue is returned for a negative duration, offset or tempo.
	ErrNegativeValue = errors.New("negative time value")
)

// Raw holds attributes as the decoder extracted them, before quantization.
// Note-on/note-off pairing has already happened: Duration is the distance
// between the two, StartOffset the distance from the previous onset.
type Raw struct {
	Pitch       int
	Velocity    int64
	Duration    int64
	StartOffset int64
	Tempo       int64 // microseconds per quarter note at onset
	Program     int   // GM program of the note's channel at onset

	// ReleaseVelocity is the note-off velocity, 0 when the note was ended
	// by a note-on with velocity 0 or by the end of its track.
	ReleaseVelocity int64
}

// Event is a single quantized note.
type Event struct {
	Pitch       uint8
	Velocity    int64
	Duration    int64
	StartOffset int64
	Tempo       int64
	Program     uint8

	ReleaseVelocity int64
}

// New builds an Event from raw attributes, quantizing both velocities,
// duration, start offset and tempo with p. The pitch and program must be valid MIDI
// data bytes; nothing else is interpreted.
func New(raw Raw, p quantize.Params) (Event, error) {
	if raw.Pitch < 0 || raw.Pitch > 127 {
		return Event{}, fmt.Errorf("%w: pitch %d", ErrPitchOutOfRange, raw.Pitch)
	}
	if raw.Program < 0 || raw.Program > 127 {
		return Event{}, fmt.Errorf("%w: program %d", ErrPitchOutOfRange, raw.Program)
	}
	if raw.Duration < 0 || raw.StartOffset < 0 || raw.Tempo < 0 {
		return Event{}, fmt.Errorf("%w: duration=%d offset=%d tempo=%d",
			ErrNegativeValue, raw.Duration, raw.StartOffset, raw.Tempo)
	}

	return Event{
		Pitch:       uint8(raw.Pitch),
		Velocity:    p.Velocity(raw.Velocity),
		Duration:    p.Duration(raw.Duration),
		StartOffset: p.Duration(raw.StartOffset),
		Tempo:       p.Tempo(raw.Tempo),
		Program:     uint8(raw.Program),

		ReleaseVelocity: p.Velocity(raw.ReleaseVelocity),
	}, nil
}

// FromRaw converts a whole decoded sequence, keeping its order.
func FromRaw(raws []Raw, p quantize.Params) ([]Event, error) {
	events := make([]Event, 0, len(raws))
	for i, raw := range raws {
		e, err := New(raw, p)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// String formats the event for logs, e.g. "C4 v96 d480 +0".
func (e Event) String() string {
	s := fmt.Sprintf("%s v%d d%d +%d", NoteName(e.Pitch), e.Velocity, e.Duration, e.StartOffset)
	if e.Program != 0 {
		s += fmt.Sprintf(" p%d", e.Program)
	}
	return s
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns scientific pitch notation with middle C (60) as C4.
func NoteName(pitch uint8) string {
	return fmt.Sprintf("%s%d", noteNames[pitch%12], int(pitch)/12-1)
}

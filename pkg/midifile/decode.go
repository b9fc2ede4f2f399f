// Package midifile converts Standard MIDI Files to and from the note event
// sequences used by the Markov model.
//
// Decoding flattens every track of a file into one timeline of paired notes
// (note-on matched with its note-off), rescaled to a common resolution.
// Encoding writes a single track.
package midifile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/zurustar/markov-music/pkg/event"
	"github.com/zurustar/markov-music/pkg/fileutil"
)

const (
	// DefaultResolution is the ticks per quarter note every input is rescaled to.
	DefaultResolution = 480
	// DefaultTempo is 120 BPM in microseconds per quarter note.
	DefaultTempo = 500000
)

var (
	// ErrMIDIFileNotFound is returned when the input path does not exist.
	ErrMIDIFileNotFound = errors.New("MIDI file not found")

	// ErrInvalidFormat is returned when the data is not a readable SMF.
	ErrInvalidFormat = errors.New("invalid MIDI file format")

	// ErrUnsupportedTimeFormat is returned for SMPTE-timed files.
	ErrUnsupportedTimeFormat = errors.New("unsupported SMF time format")

	// ErrNoNotes is returned when a file decodes but holds no usable notes.
	ErrNoNotes = errors.New("no note events")
)

// TempoEvent is a tempo change on the file's timeline.
type TempoEvent struct {
	Tick          int64 // rescaled tick position
	MicrosPerBeat int64 // microseconds per quarter note
}

// TrackInfo summarizes one track of a decoded file.
type TrackInfo struct {
	Name   string
	Events int
	Notes  int
}

// Piece is one decoded input file.
type Piece struct {
	Name             string
	Resolution       int // ticks per quarter note of Notes
	SourceResolution int // ticks per quarter note in the file
	Tracks           []TrackInfo
	Tempos           []TempoEvent
	Notes            []event.Raw
}

// DecodeOptions controls decoding.
type DecodeOptions struct {
	// Resolution is the target ticks per quarter note (DefaultResolution if 0).
	Resolution int
	// Channels keeps only notes on these channels (0-15). Empty keeps all.
	Channels []uint8
	// Logger receives per-track debug records. Nil uses slog.Default().
	Logger *slog.Logger
}

func (o DecodeOptions) resolution() int {
	if o.Resolution <= 0 {
		return DefaultResolution
	}
	return o.Resolution
}

func (o DecodeOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// ReadFile decodes the SMF at path. The file name is matched
// case-insensitively when the exact path does not exist.
func ReadFile(path string, opts DecodeOptions) (*Piece, error) {
	actualPath, err := fileutil.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMIDIFileNotFound, path)
	}

	f, err := os.Open(actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MIDI file: %w", err)
	}
	defer f.Close()

	piece, err := Decode(f, opts)
	if err != nil {
		return nil, err
	}
	if piece.Name == "" {
		piece.Name = strings.TrimSuffix(filepath.Base(actualPath), filepath.Ext(actualPath))
	}
	return piece, nil
}

// timedNote is a paired note on the absolute source timeline.
type timedNote struct {
	onset    int64
	offset   int64
	channel  uint8
	key      uint8
	velocity uint8
	release  uint8
	order    int // note-on order, keeps the sort stable across tracks
}

type programChange struct {
	tick    int64
	channel uint8
	program uint8
}

// Decode reads an SMF from r and returns its notes as raw events, sorted by
// onset. Note-on events are paired with the first still-open note-off of the
// same channel and key; notes left open end at their track's last tick.
func Decode(r io.Reader, opts DecodeOptions) (*Piece, error) {
	log := opts.logger()

	s, err := readSMF(r)
	if err != nil {
		return nil, err
	}

	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || ticks.Resolution() == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTimeFormat, s.TimeFormat)
	}

	piece := &Piece{
		Resolution:       opts.resolution(),
		SourceResolution: int(ticks.Resolution()),
	}
	scale := func(tick int64) int64 {
		return rescale(tick, piece.SourceResolution, piece.Resolution)
	}

	var (
		notes    []timedNote
		tempos   []TempoEvent
		programs []programChange
		started  int
	)

	for i, track := range s.Tracks {
		info := TrackInfo{Events: len(track)}
		open := make(map[[2]uint8][]timedNote)
		var tick int64

		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message

			var (
				ch, key, vel, prog uint8
				bpm                float64
				name               string
			)
			switch {
			case midi.Message(msg).GetNoteStart(&ch, &key, &vel):
				k := [2]uint8{ch, key}
				open[k] = append(open[k], timedNote{onset: tick, channel: ch, key: key, velocity: vel, order: started})
				started++

			case midi.Message(msg).GetNoteEnd(&ch, &key):
				// vel stays 0 for a note-on with velocity 0
				midi.Message(msg).GetNoteOff(&ch, &key, &vel)
				k := [2]uint8{ch, key}
				if pending := open[k]; len(pending) > 0 {
					n := pending[0]
					n.offset = tick
					n.release = vel
					notes = append(notes, n)
					open[k] = pending[1:]
					info.Notes++
				}

			case midi.Message(msg).GetProgramChange(&ch, &prog):
				programs = append(programs, programChange{tick: tick, channel: ch, program: prog})

			case msg.GetMetaTempo(&bpm):
				if bpm > 0 {
					tempos = append(tempos, TempoEvent{Tick: tick, MicrosPerBeat: int64(math.Round(60000000 / bpm))})
				}

			case msg.GetMetaTrackName(&name):
				info.Name = decodeText(name)
			}
		}

		// Close whatever is still sounding at the end of the track.
		for _, pending := range open {
			for _, n := range pending {
				n.offset = tick
				notes = append(notes, n)
				info.Notes++
			}
		}

		log.Debug("Track parsed", "track", i+1, "size", info.Events, "notes", info.Notes, "name", info.Name)
		piece.Tracks = append(piece.Tracks, info)
		if piece.Name == "" && info.Name != "" {
			piece.Name = info.Name
		}
	}

	notes = filterChannels(notes, opts.Channels)
	if len(notes) == 0 {
		return piece, ErrNoNotes
	}

	sort.SliceStable(notes, func(a, b int) bool {
		if notes[a].onset != notes[b].onset {
			return notes[a].onset < notes[b].onset
		}
		return notes[a].order < notes[b].order
	})
	tempos = normalizeTempoMap(tempos)
	sort.SliceStable(programs, func(a, b int) bool { return programs[a].tick < programs[b].tick })

	var (
		tempoIdx    int
		programIdx  int
		current     [16]uint8
		prevOnset   int64
		scaledTempo = make([]TempoEvent, len(tempos))
	)
	for i, t := range tempos {
		scaledTempo[i] = TempoEvent{Tick: scale(t.Tick), MicrosPerBeat: t.MicrosPerBeat}
	}
	piece.Tempos = scaledTempo

	piece.Notes = make([]event.Raw, 0, len(notes))
	for i, n := range notes {
		for tempoIdx+1 < len(tempos) && tempos[tempoIdx+1].Tick <= n.onset {
			tempoIdx++
		}
		for programIdx < len(programs) && programs[programIdx].tick <= n.onset {
			pc := programs[programIdx]
			current[pc.channel&0x0f] = pc.program
			programIdx++
		}

		onset := scale(n.onset)
		offset := int64(0)
		if i > 0 {
			offset = onset - prevOnset
		}
		prevOnset = onset

		piece.Notes = append(piece.Notes, event.Raw{
			Pitch:       int(n.key),
			Velocity:    int64(n.velocity),
			Duration:    scale(n.offset) - onset,
			StartOffset: offset,
			Tempo:       tempos[tempoIdx].MicrosPerBeat,
			Program:     int(current[n.channel&0x0f]),

			ReleaseVelocity: int64(n.release),
		})
	}

	return piece, nil
}

// headerSize covers the MThd chunk up to and including the division word.
const headerSize = 14

// readSMF parses r with gomidi. SMPTE division is rejected from the raw
// header because the parser cannot compute absolute times for it, and any
// parser panic on malformed data is reported as ErrInvalidFormat.
func readSMF(r io.Reader) (s *smf.SMF, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(data) >= headerSize && string(data[:4]) == "MThd" {
		if division := binary.BigEndian.Uint16(data[12:headerSize]); division&0x8000 != 0 {
			return nil, fmt.Errorf("%w: SMPTE division 0x%04X", ErrUnsupportedTimeFormat, division)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			s = nil
			err = fmt.Errorf("%w: %v", ErrInvalidFormat, p)
		}
	}()
	s, err = smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return s, nil
}

// normalizeTempoMap sorts tempo changes and makes sure one applies at tick 0.
func normalizeTempoMap(tempos []TempoEvent) []TempoEvent {
	sort.SliceStable(tempos, func(a, b int) bool { return tempos[a].Tick < tempos[b].Tick })
	if len(tempos) == 0 || tempos[0].Tick > 0 {
		tempos = append([]TempoEvent{{Tick: 0, MicrosPerBeat: DefaultTempo}}, tempos...)
	}
	return tempos
}

func filterChannels(notes []timedNote, channels []uint8) []timedNote {
	if len(channels) == 0 {
		return notes
	}
	keep := make(map[uint8]bool, len(channels))
	for _, ch := range channels {
		keep[ch] = true
	}
	filtered := notes[:0]
	for _, n := range notes {
		if keep[n.channel] {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

// rescale converts a tick count between resolutions, rounding to nearest.
func rescale(tick int64, from, to int) int64 {
	if from == to {
		return tick
	}
	return (tick*int64(to) + int64(from)/2) / int64(from)
}

// decodeText returns meta text as UTF-8. Older Japanese files store track
// names in Shift_JIS.
func decodeText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, _, err := transform.String(japanese.ShiftJIS.NewDecoder(), s)
	if err != nil {
		return s
	}
	return decoded
}

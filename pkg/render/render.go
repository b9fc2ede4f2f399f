// Package render turns generated MIDI data into a WAV file with a SoundFont
// synthesizer.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/zurustar/markov-music/pkg/fileutil"
)

const (
	// SampleRate is the default output sample rate.
	SampleRate = 44100
	// BitDepth of the PCM output.
	BitDepth = 16
	// Channels of the PCM output (interleaved stereo).
	Channels = 2
	// DefaultTail is rendered after the last event so releases ring out.
	DefaultTail = 2 * time.Second

	blockFrames  = 1024
	wavFormatPCM = 1
)

var (
	// ErrNoSoundFont is returned when rendering is requested without a SoundFont.
	ErrNoSoundFont = errors.New("SoundFont file is required for WAV rendering")

	// ErrSoundFontNotFound is returned when the SoundFont file cannot be found.
	ErrSoundFontNotFound = errors.New("SoundFont file not found")

	// ErrInvalidSoundFont is returned when the SoundFont cannot be parsed.
	ErrInvalidSoundFont = errors.New("invalid SoundFont file")
)

// LoadSoundFont reads and parses an SF2 file.
func LoadSoundFont(path string) (*meltysynth.SoundFont, error) {
	if path == "" {
		return nil, ErrNoSoundFont
	}
	actualPath, err := fileutil.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSoundFontNotFound, path)
	}

	data, err := os.ReadFile(actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SoundFont file: %w", err)
	}

	soundFont, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSoundFont, err)
	}
	return soundFont, nil
}

// Options controls rendering.
type Options struct {
	SampleRate int           // SampleRate if 0
	Tail       time.Duration // DefaultTail if 0, none if negative
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = SampleRate
	}
	if o.Tail == 0 {
		o.Tail = DefaultTail
	} else if o.Tail < 0 {
		o.Tail = 0
	}
	return o
}

// Stats describes a finished render.
type Stats struct {
	Frames   int
	Duration time.Duration
}

// frameSource fills one block of stereo float samples.
// *meltysynth.MidiFileSequencer satisfies it.
type frameSource interface {
	Render(left, right []float32)
}

// RenderWAV plays midiData through a synthesizer loaded with sf and writes
// the result to w as 16-bit stereo PCM.
func RenderWAV(midiData []byte, sf *meltysynth.SoundFont, w io.WriteSeeker, opts Options) (Stats, error) {
	if sf == nil {
		return Stats{}, ErrNoSoundFont
	}
	opts = opts.withDefaults()

	settings := meltysynth.NewSynthesizerSettings(int32(opts.SampleRate))
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	midiFile, err := meltysynth.NewMidiFile(bytes.NewReader(midiData))
	if err != nil {
		return Stats{}, fmt.Errorf("failed to parse MIDI data: %w", err)
	}

	sequencer := meltysynth.NewMidiFileSequencer(synth)
	sequencer.Play(midiFile, false)

	length := midiFile.GetLength() + opts.Tail
	frames := int(length.Seconds() * float64(opts.SampleRate))
	if err := writeWAV(sequencer, frames, opts.SampleRate, w); err != nil {
		return Stats{}, err
	}
	return Stats{Frames: frames, Duration: length}, nil
}

// writeWAV pulls frames from src block by block and encodes them.
func writeWAV(src frameSource, frames, sampleRate int, w io.WriteSeeker) error {
	enc := wav.NewEncoder(w, sampleRate, BitDepth, Channels, wavFormatPCM)

	left := make([]float32, blockFrames)
	right := make([]float32, blockFrames)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: sampleRate},
		Data:           make([]int, blockFrames*Channels),
		SourceBitDepth: BitDepth,
	}

	for remaining := frames; remaining > 0; {
		n := min(blockFrames, remaining)
		src.Render(left[:n], right[:n])
		for i := range n {
			buf.Data[i*2] = toPCM16(left[i])
			buf.Data[i*2+1] = toPCM16(right[i])
		}
		data := buf.Data
		buf.Data = data[:n*Channels]
		err := enc.Write(buf)
		buf.Data = data
		if err != nil {
			return fmt.Errorf("failed to write WAV samples: %w", err)
		}
		remaining -= n
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}

// toPCM16 converts a float sample to a signed 16-bit value.
func toPCM16(v float32) int {
	return int(int16(clamp(v, -1, 1) * 32767))
}

// clamp restricts a value to the range [lo, hi].
func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

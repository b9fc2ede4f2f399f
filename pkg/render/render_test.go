package render

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func TestLoadSoundFont_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "broken.sf2")
	if err := os.WriteFile(garbage, []byte("RIFF\x04\x00\x00\x00junk"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"no path", "", ErrNoSoundFont},
		{"missing file", filepath.Join(dir, "missing.sf2"), ErrSoundFontNotFound},
		{"unparsable file", garbage, ErrInvalidSoundFont},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf, err := LoadSoundFont(tt.path)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if sf != nil {
				t.Error("expected nil SoundFont on error")
			}
		})
	}
}

func TestRenderWAV_NoSoundFont(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.wav"))
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()

	if _, err := RenderWAV([]byte("MThd"), nil, f, Options{}); !errors.Is(err, ErrNoSoundFont) {
		t.Errorf("expected ErrNoSoundFont, got %v", err)
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	tests := []struct {
		in   Options
		want Options
	}{
		{Options{}, Options{SampleRate: SampleRate, Tail: DefaultTail}},
		{Options{SampleRate: 22050, Tail: time.Second}, Options{SampleRate: 22050, Tail: time.Second}},
		{Options{Tail: -1}, Options{SampleRate: SampleRate, Tail: 0}},
	}
	for _, tt := range tests {
		if got := tt.in.withDefaults(); got != tt.want {
			t.Errorf("withDefaults(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestToPCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{2.5, 32767},
		{-3, -32767},
		{0.5, 16383},
	}
	for _, tt := range tests {
		if got := toPCM16(tt.in); got != tt.want {
			t.Errorf("toPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// sineSource renders a 440 Hz tone on the left and silence on the right.
type sineSource struct {
	rate  int
	phase int
}

func (s *sineSource) Render(left, right []float32) {
	for i := range left {
		left[i] = float32(math.Sin(2 * math.Pi * 440 * float64(s.phase) / float64(s.rate)))
		right[i] = 0
		s.phase++
	}
}

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	// Not a multiple of the block size, so the last block is partial.
	const frames = 3*blockFrames + 17
	if err := writeWAV(&sineSource{rate: 8000}, frames, 8000, f); err != nil {
		t.Fatalf("writeWAV failed: %v", err)
	}
	f.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to reopen file: %v", err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		t.Fatal("output is not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("failed to decode WAV: %v", err)
	}
	if dec.SampleRate != 8000 || dec.NumChans != Channels || dec.BitDepth != BitDepth {
		t.Errorf("rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != frames*Channels {
		t.Fatalf("got %d samples, want %d", len(buf.Data), frames*Channels)
	}

	var peak int
	for i := 0; i < len(buf.Data); i += 2 {
		if buf.Data[i+1] != 0 {
			t.Fatalf("right channel sample %d = %d, want 0", i/2, buf.Data[i+1])
		}
		peak = max(peak, buf.Data[i])
	}
	if peak < 32000 {
		t.Errorf("left channel peak = %d, expected a full-scale tone", peak)
	}
}

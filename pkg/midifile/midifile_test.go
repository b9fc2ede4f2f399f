package midifile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
	"golang.org/x/text/encoding/japanese"

	"github.com/zurustar/markov-music/pkg/event"
)

// writeSMF serializes tracks at the given resolution.
func writeSMF(t *testing.T, resolution uint16, tracks ...smf.Track) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(resolution)
	for _, tr := range tracks {
		if err := s.Add(tr); err != nil {
			t.Fatalf("failed to add track: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("failed to write SMF: %v", err)
	}
	return buf.Bytes()
}

// twoTrackFile has a lead on channel 0 and a second part on channel 1 with
// program 5, at 960 ticks per quarter note and 100 BPM.
func twoTrackFile(t *testing.T) []byte {
	var lead smf.Track
	lead.Add(0, smf.MetaTrackSequenceName("Lead"))
	lead.Add(0, smf.MetaTempo(100))
	lead.Add(0, midi.NoteOn(0, 60, 100))
	lead.Add(960, midi.NoteOff(0, 60))
	lead.Add(0, midi.NoteOn(0, 64, 90))
	lead.Add(960, midi.NoteOff(0, 64))
	lead.Add(0, midi.NoteOn(0, 67, 80))
	lead.Add(960, midi.NoteOn(0, 67, 0)) // note-on with velocity 0 ends the note
	lead.Close(0)

	var second smf.Track
	second.Add(0, midi.ProgramChange(1, 5))
	second.Add(480, midi.NoteOn(1, 62, 70))
	second.Add(960, midi.NoteOff(1, 62))
	second.Close(0)

	return writeSMF(t, 960, lead, second)
}

func TestDecode_MergesTracksAndRescales(t *testing.T) {
	piece, err := Decode(bytes.NewReader(twoTrackFile(t)), DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	want := []event.Raw{
		{Pitch: 60, Velocity: 100, Duration: 480, StartOffset: 0, Tempo: 600000, Program: 0},
		{Pitch: 62, Velocity: 70, Duration: 480, StartOffset: 240, Tempo: 600000, Program: 5},
		{Pitch: 64, Velocity: 90, Duration: 480, StartOffset: 240, Tempo: 600000, Program: 0},
		{Pitch: 67, Velocity: 80, Duration: 480, StartOffset: 480, Tempo: 600000, Program: 0},
	}
	if !reflect.DeepEqual(piece.Notes, want) {
		t.Errorf("Notes =\n%v\nwant\n%v", piece.Notes, want)
	}
	if piece.Resolution != DefaultResolution || piece.SourceResolution != 960 {
		t.Errorf("Resolution=%d SourceResolution=%d", piece.Resolution, piece.SourceResolution)
	}
	if piece.Name != "Lead" {
		t.Errorf("Name = %q, want Lead", piece.Name)
	}
	if len(piece.Tracks) != 2 || piece.Tracks[0].Notes != 3 || piece.Tracks[1].Notes != 1 {
		t.Errorf("Tracks = %+v", piece.Tracks)
	}
	if len(piece.Tempos) != 1 || piece.Tempos[0] != (TempoEvent{Tick: 0, MicrosPerBeat: 600000}) {
		t.Errorf("Tempos = %+v", piece.Tempos)
	}
}

func TestDecode_ChannelFilter(t *testing.T) {
	piece, err := Decode(bytes.NewReader(twoTrackFile(t)), DecodeOptions{Channels: []uint8{1}})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(piece.Notes) != 1 || piece.Notes[0].Pitch != 62 || piece.Notes[0].StartOffset != 0 {
		t.Errorf("Notes = %v", piece.Notes)
	}

	_, err = Decode(bytes.NewReader(twoTrackFile(t)), DecodeOptions{Channels: []uint8{9}})
	if !errors.Is(err, ErrNoNotes) {
		t.Errorf("expected ErrNoNotes for an unused channel, got %v", err)
	}
}

func TestDecode_FIFOPairingAndTempoChanges(t *testing.T) {
	var tr smf.Track
	// Two overlapping C4s: the first note-off closes the first note-on.
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(240, midi.NoteOn(0, 60, 50))
	tr.Add(240, midi.NoteOff(0, 60))
	tr.Add(0, smf.MetaTempo(150))
	tr.Add(480, midi.NoteOffVelocity(0, 60, 40))
	tr.Add(0, midi.NoteOn(0, 72, 60))
	// Still sounding at the end of the track.
	tr.Add(480, smf.MetaTempo(150))
	tr.Close(0)

	piece, err := Decode(bytes.NewReader(writeSMF(t, 480, tr)), DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	want := []event.Raw{
		{Pitch: 60, Velocity: 100, Duration: 480, StartOffset: 0, Tempo: DefaultTempo},
		{Pitch: 60, Velocity: 50, Duration: 720, StartOffset: 240, Tempo: DefaultTempo, ReleaseVelocity: 40},
		{Pitch: 72, Velocity: 60, Duration: 480, StartOffset: 720, Tempo: 400000},
	}
	if !reflect.DeepEqual(piece.Notes, want) {
		t.Errorf("Notes =\n%v\nwant\n%v", piece.Notes, want)
	}

	// A default tempo is inserted before the first explicit change.
	if len(piece.Tempos) != 3 || piece.Tempos[0] != (TempoEvent{0, DefaultTempo}) || piece.Tempos[1] != (TempoEvent{480, 400000}) {
		t.Errorf("Tempos = %+v", piece.Tempos)
	}
}

func TestDecode_Errors(t *testing.T) {
	var tempoOnly smf.Track
	tempoOnly.Add(0, smf.MetaTempo(120))
	tempoOnly.Close(0)

	smpte := []byte{
		'M', 'T', 'h', 'd', 0, 0, 0, 6, 0, 0, 0, 1, 0xE7, 0x28,
		'M', 'T', 'r', 'k', 0, 0, 0, 4, 0x00, 0xFF, 0x2F, 0x00,
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not a MIDI file", []byte("RIFF....WAVE"), ErrInvalidFormat},
		{"SMPTE time format", smpte, ErrUnsupportedTimeFormat},
		{"SMPTE header without tracks", smpte[:headerSize], ErrUnsupportedTimeFormat},
		{"truncated header", smpte[:10], ErrInvalidFormat},
		{"no notes", writeSMF(t, 480, tempoOnly), ErrNoNotes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data), DecodeOptions{})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecode_ShiftJISTrackName(t *testing.T) {
	sjis, err := japanese.ShiftJIS.NewEncoder().String("練習曲")
	if err != nil {
		t.Fatalf("failed to encode Shift_JIS: %v", err)
	}

	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(sjis))
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Close(0)

	piece, err := Decode(bytes.NewReader(writeSMF(t, 480, tr)), DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if piece.Name != "練習曲" {
		t.Errorf("Name = %q, want 練習曲", piece.Name)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Etude.MID")
	if err := os.WriteFile(path, twoTrackFile(t), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	piece, err := ReadFile(filepath.Join(dir, "etude.mid"), DecodeOptions{})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(piece.Notes) != 4 {
		t.Errorf("got %d notes, want 4", len(piece.Notes))
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.mid"), DecodeOptions{}); !errors.Is(err, ErrMIDIFileNotFound) {
		t.Errorf("expected ErrMIDIFileNotFound, got %v", err)
	}
}

func TestReadFile_NameFallsBackToFileName(t *testing.T) {
	var tr smf.Track
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Close(0)

	path := filepath.Join(t.TempDir(), "untitled.mid")
	if err := os.WriteFile(path, writeSMF(t, 480, tr), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	piece, err := ReadFile(path, DecodeOptions{})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if piece.Name != "untitled" {
		t.Errorf("Name = %q, want untitled", piece.Name)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	events := []event.Event{
		{Pitch: 60, Velocity: 100, Duration: 480, StartOffset: 0, Tempo: 500000},
		{Pitch: 62, Velocity: 0, Duration: 240, StartOffset: 480, Tempo: 500000, ReleaseVelocity: 64},
		{Pitch: 64, Velocity: 200, Duration: 0, StartOffset: 480, Tempo: 400000, Program: 10, ReleaseVelocity: 300},
		{Pitch: 64, Velocity: 64, Duration: 480, StartOffset: 1, Tempo: 400000, Program: 10},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, events, EncodeOptions{TrackName: "generated"}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	piece, err := Decode(&buf, DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	// Velocity is clamped into 1..127, release velocity into 0..127, and a
	// zero duration becomes one tick.
	want := []event.Raw{
		{Pitch: 60, Velocity: 100, Duration: 480, StartOffset: 0, Tempo: 500000, Program: 0},
		{Pitch: 62, Velocity: 1, Duration: 240, StartOffset: 480, Tempo: 500000, Program: 0, ReleaseVelocity: 64},
		{Pitch: 64, Velocity: 127, Duration: 1, StartOffset: 480, Tempo: 400000, Program: 10, ReleaseVelocity: 127},
		{Pitch: 64, Velocity: 64, Duration: 480, StartOffset: 1, Tempo: 400000, Program: 10},
	}
	if !reflect.DeepEqual(piece.Notes, want) {
		t.Errorf("Notes =\n%v\nwant\n%v", piece.Notes, want)
	}
	if piece.Name != "generated" {
		t.Errorf("Name = %q, want generated", piece.Name)
	}
	if len(piece.Tracks) != 1 {
		t.Errorf("expected a single track, got %d", len(piece.Tracks))
	}
}

func TestEncode_HeaderMessages(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, []event.Event{{Pitch: 60, Velocity: 90, Duration: 480}}, EncodeOptions{Channel: 3})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	s, err := smf.ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if res := s.TimeFormat.(smf.MetricTicks).Resolution(); res != DefaultResolution {
		t.Errorf("resolution = %d, want %d", res, DefaultResolution)
	}

	var (
		sawSysEx, sawName, sawTempo bool
		ch, key, vel                uint8
		name                        string
		bpm                         float64
	)
	for _, ev := range s.Tracks[0] {
		msg := midi.Message(ev.Message)
		switch {
		case len(msg) > 0 && msg[0] == 0xF0:
			sawSysEx = true
		case ev.Message.GetMetaTrackName(&name):
			sawName = name == DefaultTrackName
		case ev.Message.GetMetaTempo(&bpm):
			sawTempo = bpm == 120
		case msg.GetNoteStart(&ch, &key, &vel):
			if ch != 3 {
				t.Errorf("note on channel %d, want 3", ch)
			}
		}
	}
	if !sawSysEx || !sawName || !sawTempo {
		t.Errorf("sysex=%v name=%v tempo=%v", sawSysEx, sawName, sawTempo)
	}
}

func TestEncode_NoEvents(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, nil, EncodeOptions{}); !errors.Is(err, ErrNoEvents) {
		t.Errorf("expected ErrNoEvents, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %d bytes", buf.Len())
	}
}

func TestRescale(t *testing.T) {
	tests := []struct {
		tick     int64
		from, to int
		want     int64
	}{
		{960, 960, 480, 480},
		{1, 960, 480, 1},
		{100, 96, 480, 500},
		{7, 480, 480, 7},
	}
	for _, tt := range tests {
		if got := rescale(tt.tick, tt.from, tt.to); got != tt.want {
			t.Errorf("rescale(%d, %d, %d) = %d, want %d", tt.tick, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mid")

	events := []event.Event{
		{Pitch: 60, Velocity: 96, Duration: 480, Tempo: 500000},
		{Pitch: 67, Velocity: 96, Duration: 480, StartOffset: 480, Tempo: 500000},
	}
	if err := WriteFile(path, events, EncodeOptions{}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	piece, err := ReadFile(path, DecodeOptions{})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(piece.Notes) != 2 || piece.Notes[1].Pitch != 67 {
		t.Errorf("Notes = %v", piece.Notes)
	}

	// An empty sequence leaves the existing file alone.
	if err := WriteFile(path, nil, EncodeOptions{}); !errors.Is(err, ErrNoEvents) {
		t.Errorf("expected ErrNoEvents, got %v", err)
	}
	if _, err := ReadFile(path, DecodeOptions{}); err != nil {
		t.Errorf("previous output should survive, got %v", err)
	}

	missing := filepath.Join(dir, "no-such-dir", "out.mid")
	if err := WriteFile(missing, events, EncodeOptions{}); err == nil {
		t.Error("expected error for a missing directory")
	}
}

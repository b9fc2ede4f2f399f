// Package config loads model parameters from an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zurustar/markov-music/pkg/quantize"
)

// Defaults shared with the command line.
const (
	DefaultOrder      = 3
	DefaultLength     = 500
	DefaultStart      = "uniform"
	DefaultResolution = 480
	DefaultLogLevel   = "info"
	DefaultOutputFile = "output.mid"
)

// ErrInvalidConfig is returned for malformed or out-of-range values.
var ErrInvalidConfig = errors.New("invalid configuration")

// Quantize holds the bucket sizes.
type Quantize struct {
	Velocity int64 `yaml:"velocity"`
	Duration int64 `yaml:"duration"`
	Tempo    int64 `yaml:"tempo"`
}

// File is the YAML document. Missing keys take the defaults.
type File struct {
	Order      int      `yaml:"order"`
	Length     int      `yaml:"length"`
	Seed       *uint64  `yaml:"seed"`
	Start      string   `yaml:"start"`
	Quantize   Quantize `yaml:"quantize"`
	Resolution int      `yaml:"resolution"`
	Channels   []int    `yaml:"channels"`
	OutputFile string   `yaml:"output_file"`
	RenderWAV  string   `yaml:"render_wav"`
	SoundFont  string   `yaml:"soundfont"`
	LogLevel   string   `yaml:"log_level"`
}

// Default returns a File with every default applied.
func Default() *File {
	def := quantize.DefaultParams()
	return &File{
		Order:  DefaultOrder,
		Length: DefaultLength,
		Start:  DefaultStart,
		Quantize: Quantize{
			Velocity: def.VelocityBucket,
			Duration: def.DurationBucket,
			Tempo:    def.TempoBucket,
		},
		Resolution: DefaultResolution,
		OutputFile: DefaultOutputFile,
		LogLevel:   DefaultLogLevel,
	}
}

// Load reads the YAML file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %s: %v", ErrInvalidConfig, path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML document over the defaults and validates it.
// Only missing keys keep their default; a key given as 0 or "" is
// validated as written. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks value ranges.
func (f *File) Validate() error {
	if f.Order < 1 {
		return fmt.Errorf("%w: order must be >= 1, got %d", ErrInvalidConfig, f.Order)
	}
	if f.Length < 1 {
		return fmt.Errorf("%w: length must be >= 1, got %d", ErrInvalidConfig, f.Length)
	}
	switch strings.ToLower(f.Start) {
	case "uniform", "weighted":
	default:
		return fmt.Errorf("%w: start must be uniform or weighted, got %q", ErrInvalidConfig, f.Start)
	}
	if err := f.QuantizeParams().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f.Resolution < 1 || f.Resolution > 0x7FFF {
		return fmt.Errorf("%w: resolution must be in 1..32767, got %d", ErrInvalidConfig, f.Resolution)
	}
	if f.OutputFile == "" {
		return fmt.Errorf("%w: output_file must not be empty", ErrInvalidConfig)
	}
	if f.LogLevel == "" {
		return fmt.Errorf("%w: log_level must not be empty", ErrInvalidConfig)
	}
	for _, ch := range f.Channels {
		if ch < 0 || ch > 15 {
			return fmt.Errorf("%w: channel must be in 0..15, got %d", ErrInvalidConfig, ch)
		}
	}
	return nil
}

// QuantizeParams converts the bucket sizes for the quantizer.
func (f *File) QuantizeParams() quantize.Params {
	return quantize.Params{
		VelocityBucket: f.Quantize.Velocity,
		DurationBucket: f.Quantize.Duration,
		TempoBucket:    f.Quantize.Tempo,
	}
}

// ChannelFilter returns the channel list as MIDI channel numbers.
func (f *File) ChannelFilter() []uint8 {
	if len(f.Channels) == 0 {
		return nil
	}
	out := make([]uint8, len(f.Channels))
	for i, ch := range f.Channels {
		out[i] = uint8(ch)
	}
	return out
}

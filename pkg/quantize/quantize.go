// Package quantize maps raw note attributes onto discrete buckets so that
// musically equivalent events share one model state.
package quantize

import (
	"errors"
	"fmt"
)

// ErrInvalidBucket is returned when a bucket size is zero or negative.
var ErrInvalidBucket = errors.New("bucket size must be positive")

// Default bucket sizes. Durations and offsets are in ticks at the decoder's
// target resolution (480 per quarter note), tempo is in microseconds per
// quarter note.
const (
	DefaultVelocityBucket = 16
	DefaultDurationBucket = 60
	DefaultTempoBucket    = 10000
)

// Params holds the quantization granularities for one build+generate cycle.
// It is a plain value: copy it, never mutate a shared one.
type Params struct {
	VelocityBucket int64
	DurationBucket int64
	TempoBucket    int64
}

// DefaultParams returns the bucket sizes used when nothing else is configured.
func DefaultParams() Params {
	return Params{
		VelocityBucket: DefaultVelocityBucket,
		DurationBucket: DefaultDurationBucket,
		TempoBucket:    DefaultTempoBucket,
	}
}

// Validate reports the first non-positive bucket.
func (p Params) Validate() error {
	switch {
	case p.VelocityBucket <= 0:
		return fmt.Errorf("%w: velocity bucket %d", ErrInvalidBucket, p.VelocityBucket)
	case p.DurationBucket <= 0:
		return fmt.Errorf("%w: duration bucket %d", ErrInvalidBucket, p.DurationBucket)
	case p.TempoBucket <= 0:
		return fmt.Errorf("%w: tempo bucket %d", ErrInvalidBucket, p.TempoBucket)
	}
	return nil
}

// Velocity quantizes a note velocity.
func (p Params) Velocity(v int64) int64 { return Quantize(v, p.VelocityBucket) }

// Duration quantizes a note length or an inter-onset offset.
func (p Params) Duration(v int64) int64 { return Quantize(v, p.DurationBucket) }

// Tempo quantizes a tempo in microseconds per quarter note.
func (p Params) Tempo(v int64) int64 { return Quantize(v, p.TempoBucket) }

// Quantize rounds value to the nearest multiple of bucket. Ties go up
// (towards positive infinity), so Quantize(50, 100) == 100 and
// Quantize(-50, 100) == 0. The result is a fixed point:
// Quantize(Quantize(v, b), b) == Quantize(v, b).
//
// A non-positive bucket is a programming error; configuration must be
// checked with Params.Validate before it reaches here.
func Quantize(value, bucket int64) int64 {
	if bucket <= 0 {
		panic(fmt.Sprintf("quantize: bucket size %d", bucket))
	}
	return floorDiv(value+bucket/2, bucket) * bucket
}

// floorDiv divides rounding towards negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

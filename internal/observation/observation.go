package observation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/geometry"
)

// ErrInvalidObservation rejects malformed bearings at the ingestion door:
// non-normalizable direction, negative or non-finite distance, or a
// non-positive scale factor.
var ErrInvalidObservation = errors.New("invalid observation")

const (
	// DefaultScaleFactor applies when a report omits the scale factor.
	DefaultScaleFactor = 1.0
)

// Observation is one observer's bearing toward a target: a unit direction
// of sight plus the reported distance along it.
type Observation struct {
	ObserverID       string    // ObserverID identifies the reporting client
	TargetID         string    // TargetID identifies the sighted object
	ObserverPosition *r3.Vec   // ObserverPosition is the self-reported world position, nil when omitted
	Direction        r3.Vec    // Direction is unit length after Normalized
	Distance         float64   // Distance is the reported range in client units
	ScaleFactor      float64   // ScaleFactor converts client units to world units
	Timestamp        time.Time // Timestamp is when the bearing was taken
}

// Normalized validates the observation and returns a copy with a unit
// direction, a defaulted scale factor and a defaulted timestamp.
func (o Observation) Normalized() (Observation, error) {
	if o.ObserverID == "" {
		return Observation{}, fmt.Errorf("missing observer id: %w", ErrInvalidObservation)
	}

	if o.TargetID == "" {
		return Observation{}, fmt.Errorf("missing target id: %w", ErrInvalidObservation)
	}

	dir, ok := geometry.Unit(o.Direction)
	if !ok {
		return Observation{}, fmt.Errorf("non-normalizable direction %v: %w", o.Direction, ErrInvalidObservation)
	}
	o.Direction = dir

	if o.Distance < 0 || math.IsNaN(o.Distance) || math.IsInf(o.Distance, 0) {
		return Observation{}, fmt.Errorf("distance %g out of range: %w", o.Distance, ErrInvalidObservation)
	}

	if o.ScaleFactor == 0 {
		o.ScaleFactor = DefaultScaleFactor
	}
	if o.ScaleFactor <= 0 || math.IsNaN(o.ScaleFactor) || math.IsInf(o.ScaleFactor, 0) {
		return Observation{}, fmt.Errorf("scale factor %g out of range: %w", o.ScaleFactor, ErrInvalidObservation)
	}

	if o.ObserverPosition != nil {
		if !geometry.IsFinite(*o.ObserverPosition) {
			return Observation{}, fmt.Errorf("non-finite observer position: %w", ErrInvalidObservation)
		}
		pos := *o.ObserverPosition
		o.ObserverPosition = &pos
	}

	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	return o, nil
}

// Range returns the effective distance in world units.
func (o Observation) Range() float64 {
	return o.Distance * o.ScaleFactor
}

// CanonicalBytes returns a deterministic binary encoding of the observation,
// used for feed signatures and duplicate detection. Field order and widths
// are fixed; floats are encoded as big-endian IEEE 754 bits.
func (o Observation) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+len(o.ObserverID)+len(o.TargetID))

	buf = appendString(buf, o.ObserverID)
	buf = appendString(buf, o.TargetID)
	buf = appendFloat(buf, o.Direction.X)
	buf = appendFloat(buf, o.Direction.Y)
	buf = appendFloat(buf, o.Direction.Z)
	buf = appendFloat(buf, o.Distance)
	buf = appendFloat(buf, o.ScaleFactor)

	if o.ObserverPosition != nil {
		buf = append(buf, 1)
		buf = appendFloat(buf, o.ObserverPosition.X)
		buf = appendFloat(buf, o.ObserverPosition.Y)
		buf = appendFloat(buf, o.ObserverPosition.Z)
	} else {
		buf = append(buf, 0)
	}

	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Timestamp.UnixNano()))

	return buf
}

// appendString appends a length-prefixed string.
func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// appendFloat appends the big-endian IEEE 754 bits of f.
func appendFloat(buf []byte, f float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
}

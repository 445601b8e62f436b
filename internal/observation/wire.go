package observation

import (
	"time"

	"parallax/internal/geometry"
)

// Wire is the transport form of an Observation, shared by the HTTP API
// and the QUIC feed. Vectors travel as [x, y, z] arrays.
type Wire struct {
	ObserverID       string      `json:"observerId"`
	TargetID         string      `json:"targetId"`
	ObserverPosition *[3]float64 `json:"observerPosition,omitempty"`
	Direction        [3]float64  `json:"direction"`
	Distance         float64     `json:"distance"`
	ScaleFactor      float64     `json:"scaleFactor,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Observation converts the wire form to the domain type. No validation
// happens here; Normalized is the single validation door.
func (w Wire) Observation() Observation {
	o := Observation{
		ObserverID:  w.ObserverID,
		TargetID:    w.TargetID,
		Direction:   geometry.FromArray(w.Direction),
		Distance:    w.Distance,
		ScaleFactor: w.ScaleFactor,
		Timestamp:   w.Timestamp,
	}

	if w.ObserverPosition != nil {
		pos := geometry.FromArray(*w.ObserverPosition)
		o.ObserverPosition = &pos
	}

	return o
}

// ToWire converts an observation to its transport form.
func ToWire(o Observation) Wire {
	w := Wire{
		ObserverID:  o.ObserverID,
		TargetID:    o.TargetID,
		Direction:   geometry.ToArray(o.Direction),
		Distance:    o.Distance,
		ScaleFactor: o.ScaleFactor,
		Timestamp:   o.Timestamp,
	}

	if o.ObserverPosition != nil {
		pos := geometry.ToArray(*o.ObserverPosition)
		w.ObserverPosition = &pos
	}

	return w
}

package consensus

import (
	"errors"
	"time"
)

const (
	// MethodRayPair marks a two-ray solve: the midpoint of the common
	// perpendicular, which is the exact crossing for intersecting rays.
	MethodRayPair = "ray-pair"

	// MethodLeastSquares marks a full multi-ray least-squares solve.
	MethodLeastSquares = "least-squares"
)

// ErrInsufficientObservers rejects validation rounds with fewer than two
// distinct observers: one witness cannot corroborate itself.
var ErrInsufficientObservers = errors.New("insufficient observers")

// Result is the immutable outcome of one validation round.
// It is created by the coordinator, returned to the caller and never
// mutated afterwards.
type Result struct {
	TargetID       string     `json:"targetId"`
	Valid          bool       `json:"valid"`
	Confidence     float64    `json:"confidence"`
	Position       [3]float64 `json:"position"`
	GeometricError float64    `json:"geometricError"`
	ObserverCount  int        `json:"observerCount"`
	Method         string     `json:"method"`
	Timestamp      time.Time  `json:"timestamp"`
}

// ResultSink receives completed validation results.
// Implementations must not block the validation round.
type ResultSink interface {
	RecordValidation(Result)
}

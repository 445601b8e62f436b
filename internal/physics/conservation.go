package physics

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// DefaultDriftTolerance is the relative drift per sample above which a
	// conservation flag trips.
	DefaultDriftTolerance = 0.01
)

// Snapshot is one conservation sample of the live simulation.
// Violations surface as cleared flags, never as errors: the validator
// observes and reports, correction belongs to the simulation layer.
type Snapshot struct {
	ForceSum          [3]float64 `json:"forceSum"`          // net pairwise force, ~0 by Newton's third law
	ForceMagnitude    float64    `json:"forceMagnitude"`    // |ForceSum|
	TotalMomentum     [3]float64 `json:"totalMomentum"`     // sum of m*v over all bodies
	MomentumMagnitude float64    `json:"momentumMagnitude"` // |TotalMomentum|
	TotalEnergy       float64    `json:"totalEnergy"`       // kinetic plus pairwise potential
	BodyCount         int        `json:"bodyCount"`
	MomentumConserved bool       `json:"momentumConserved"`
	EnergyConserved   bool       `json:"energyConserved"`
	Tick              uint64     `json:"tick"`
	Timestamp         time.Time  `json:"timestamp"`
}

// Validator samples conservation laws from body snapshots and tracks drift
// between consecutive samples. It never mutates the bodies it reads.
type Validator struct {
	tolerance float64

	mu   sync.Mutex
	prev *baseline // prev is the previous sample, nil before the first
}

// baseline carries the quantities drift is measured against.
type baseline struct {
	momentum r3.Vec
	scale    float64 // scale is the momentum magnitude sum, the drift denominator
	energy   float64
}

// NewValidator creates a validator with the given relative drift tolerance
// per sample. Non-positive tolerance uses DefaultDriftTolerance.
func NewValidator(tolerance float64) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultDriftTolerance
	}

	return &Validator{tolerance: tolerance}
}

// Snapshot computes a conservation sample for the bodies at the given tick.
// The first sample trivially conserves; later samples compare drift against
// the previous one.
func (v *Validator) Snapshot(bodies []Body, g float64, tick uint64) Snapshot {
	forceSum := totalForce(bodies, g)
	momentum := totalMomentum(bodies)
	energy := totalEnergy(bodies, g)
	scale := momentumScale(bodies)

	snap := Snapshot{
		ForceSum:          [3]float64{forceSum.X, forceSum.Y, forceSum.Z},
		ForceMagnitude:    r3.Norm(forceSum),
		TotalMomentum:     [3]float64{momentum.X, momentum.Y, momentum.Z},
		MomentumMagnitude: r3.Norm(momentum),
		TotalEnergy:       energy,
		BodyCount:         len(bodies),
		MomentumConserved: true,
		EnergyConserved:   true,
		Tick:              tick,
		Timestamp:         time.Now(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.prev != nil {
		snap.MomentumConserved = relativeDrift(r3.Norm(r3.Sub(momentum, v.prev.momentum)), v.prev.scale) < v.tolerance
		snap.EnergyConserved = relativeDrift(math.Abs(energy-v.prev.energy), math.Abs(v.prev.energy)) < v.tolerance
	}

	v.prev = &baseline{momentum: momentum, scale: scale, energy: energy}

	return snap
}

// totalForce sums all pairwise gravitational forces. Each pair contributes
// its force and the exact negation, so any nonzero sum is asymmetry.
func totalForce(bodies []Body, g float64) r3.Vec {
	var sum r3.Vec

	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			f := pairForce(bodies[i], bodies[j], g)
			sum = r3.Add(sum, f)
			sum = r3.Add(sum, r3.Scale(-1, f))
		}
	}

	return sum
}

// totalMomentum sums m*v over the bodies.
func totalMomentum(bodies []Body) r3.Vec {
	var sum r3.Vec
	for _, b := range bodies {
		sum = r3.Add(sum, b.Momentum())
	}

	return sum
}

// momentumScale sums |m*v| over the bodies, the natural denominator for
// momentum drift: near-zero net momentum is the common case in a
// barycentric frame, so drift is measured against the circulating amount.
func momentumScale(bodies []Body) float64 {
	var sum float64
	for _, b := range bodies {
		sum += r3.Norm(b.Momentum())
	}

	return sum
}

// totalEnergy sums kinetic and pairwise potential energy.
func totalEnergy(bodies []Body, g float64) float64 {
	var e float64
	for _, b := range bodies {
		e += b.KineticEnergy()
	}

	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			dist := r3.Norm(r3.Sub(bodies[j].Position, bodies[i].Position))
			if dist < softening {
				continue
			}
			e -= g * bodies[i].Mass * bodies[j].Mass / dist
		}
	}

	return e
}

// relativeDrift returns drift normalized by scale, treating a zero scale
// as exact conservation of an all-zero quantity.
func relativeDrift(drift, scale float64) float64 {
	if scale == 0 {
		if drift == 0 {
			return 0
		}
		return math.Inf(1)
	}

	return drift / scale
}

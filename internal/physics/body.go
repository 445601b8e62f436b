package physics

import "gonum.org/v1/gonum/spatial/r3"

// Body is one gravitationally coupled object in the simulation.
type Body struct {
	ID       string  // ID names the body
	Mass     float64 // Mass in kilograms
	Position r3.Vec  // Position in meters, world frame
	Velocity r3.Vec  // Velocity in meters per second
}

// Momentum returns the body's linear momentum vector.
func (b Body) Momentum() r3.Vec {
	return r3.Scale(b.Mass, b.Velocity)
}

// KineticEnergy returns the body's kinetic energy in joules.
func (b Body) KineticEnergy() float64 {
	v := r3.Norm(b.Velocity)
	return 0.5 * b.Mass * v * v
}

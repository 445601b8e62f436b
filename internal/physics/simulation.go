package physics

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/logger"
)

const (
	// GravitationalConstant is Newton's G in SI units.
	GravitationalConstant = 6.67430e-11

	// DefaultTickStep is the simulated time advanced per tick, in seconds.
	DefaultTickStep = 60.0

	// softening avoids force blowup when two bodies nearly coincide.
	softening = 1e-9
)

// Simulation steps an N-body world under pairwise Newtonian gravity with a
// leapfrog (kick-drift-kick) integrator. The integrator is symplectic, so
// energy drift stays bounded over long windows instead of accumulating.
// It is safe for concurrent access; readers get copies and never stall the
// tick loop.
type Simulation struct {
	g  float64 // g is the gravitational constant in use
	dt float64 // dt is the simulated seconds per tick

	mu     sync.RWMutex
	bodies []Body
	tick   uint64

	stop chan struct{} // stop signals the tick loop to exit
	wg   sync.WaitGroup
}

// NewSimulation creates a simulation over the given bodies.
// Non-positive g or dt fall back to the SI constant and DefaultTickStep.
func NewSimulation(bodies []Body, g, dt float64) *Simulation {
	if g <= 0 {
		g = GravitationalConstant
	}
	if dt <= 0 {
		dt = DefaultTickStep
	}

	s := &Simulation{
		g:      g,
		dt:     dt,
		bodies: make([]Body, len(bodies)),
		stop:   make(chan struct{}),
	}
	copy(s.bodies, bodies)

	return s
}

// Run starts the tick loop, stepping the world every interval.
func (s *Simulation) Run(interval time.Duration) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Step()
			case <-s.stop:
				return
			}
		}
	}()

	logger.Info("simulation started", "bodies", len(s.bodies), "dt", s.dt, "interval", interval)
}

// Close stops the tick loop.
func (s *Simulation) Close() {
	close(s.stop)
	s.wg.Wait()
}

// Step advances the world by one tick: half kick, full drift, half kick.
func (s *Simulation) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	half := s.dt / 2

	acc := accelerations(s.bodies, s.g)
	for i := range s.bodies {
		s.bodies[i].Velocity = r3.Add(s.bodies[i].Velocity, r3.Scale(half, acc[i]))
		s.bodies[i].Position = r3.Add(s.bodies[i].Position, r3.Scale(s.dt, s.bodies[i].Velocity))
	}

	acc = accelerations(s.bodies, s.g)
	for i := range s.bodies {
		s.bodies[i].Velocity = r3.Add(s.bodies[i].Velocity, r3.Scale(half, acc[i]))
	}

	s.tick++
}

// Bodies returns a copy of the current world state.
func (s *Simulation) Bodies() []Body {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Body, len(s.bodies))
	copy(out, s.bodies)

	return out
}

// SetBodies replaces the world wholesale, e.g. when the game layer loads a
// new system. The tick counter keeps running.
func (s *Simulation) SetBodies(bodies []Body) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bodies = make([]Body, len(bodies))
	copy(s.bodies, bodies)
}

// Tick returns the number of completed steps.
func (s *Simulation) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tick
}

// G returns the gravitational constant in use.
func (s *Simulation) G() float64 {
	return s.g
}

// accelerations computes per-body acceleration from pairwise gravity.
// Each pair is evaluated once and applied with opposite signs, so the
// implied force sum is zero by construction.
func accelerations(bodies []Body, g float64) []r3.Vec {
	acc := make([]r3.Vec, len(bodies))

	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			f := pairForce(bodies[i], bodies[j], g)

			acc[i] = r3.Add(acc[i], r3.Scale(1/bodies[i].Mass, f))
			acc[j] = r3.Add(acc[j], r3.Scale(-1/bodies[j].Mass, f))
		}
	}

	return acc
}

// pairForce returns the gravitational force on a exerted by b.
func pairForce(a, b Body, g float64) r3.Vec {
	delta := r3.Sub(b.Position, a.Position)
	dist := r3.Norm(delta)
	if dist < softening {
		return r3.Vec{}
	}

	magnitude := g * a.Mass * b.Mass / (dist * dist)

	return r3.Scale(magnitude/dist, delta)
}

package physics

import (
	"sync"
	"time"

	"parallax/internal/logger"
)

// SnapshotSink receives conservation samples.
// Implementations must not block the sampling loop.
type SnapshotSink interface {
	RecordConservation(Snapshot)
}

// Sampler periodically snapshots the simulation's conservation state and
// fans the samples out to sinks. It reads body copies and never stalls the
// simulation's tick loop.
type Sampler struct {
	sim       *Simulation
	validator *Validator
	sinks     []SnapshotSink

	mu   sync.RWMutex
	last *Snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSampler creates a sampler over the simulation.
func NewSampler(sim *Simulation, validator *Validator, sinks ...SnapshotSink) *Sampler {
	return &Sampler{
		sim:       sim,
		validator: validator,
		sinks:     sinks,
		stop:      make(chan struct{}),
	}
}

// Run takes an initial sample and starts the sampling loop.
func (s *Sampler) Run(interval time.Duration) {
	s.Sample()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := s.Sample()
				if !snap.MomentumConserved || !snap.EnergyConserved {
					logger.Warn("conservation drift",
						"tick", snap.Tick,
						"momentumOk", snap.MomentumConserved,
						"energyOk", snap.EnergyConserved)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the sampling loop.
func (s *Sampler) Close() {
	close(s.stop)
	s.wg.Wait()
}

// Sample takes one conservation sample now and fans it out.
func (s *Sampler) Sample() Snapshot {
	snap := s.validator.Snapshot(s.sim.Bodies(), s.sim.G(), s.sim.Tick())

	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	for _, sink := range s.sinks {
		sink.RecordConservation(snap)
	}

	return snap
}

// Last returns the most recent sample, if one was taken.
func (s *Sampler) Last() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return Snapshot{}, false
	}

	return *s.last, true
}

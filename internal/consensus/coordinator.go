package consensus

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/geometry"
	"parallax/internal/logger"
	"parallax/internal/observation"
	"parallax/internal/registry"
)

// Config tunes the validation verdict.
type Config struct {
	ValidityThreshold float64 // ValidityThreshold is the minimum passing confidence
	MaxResidual       float64 // MaxResidual is the maximum passing geometric error
}

// Coordinator orchestrates one validation round: ingest, snapshot, resolve,
// triangulate, score, verdict. It is the sole external entry point for
// consensus validation; the store and triangulator are internal
// collaborators.
type Coordinator struct {
	store     *observation.Store
	registry  *registry.Registry
	scorer    Scorer
	threshold float64
	sinks     []ResultSink

	mu      sync.RWMutex
	lastPos map[string]r3.Vec // lastPos anchors rays from observers with no known position
}

// NewCoordinator creates a coordinator over the given store and registry.
// Zero config fields fall back to the package defaults. Sinks receive every
// completed result and must not block.
func NewCoordinator(store *observation.Store, reg *registry.Registry, cfg Config, sinks ...ResultSink) *Coordinator {
	if cfg.ValidityThreshold <= 0 {
		cfg.ValidityThreshold = DefaultValidityThreshold
	}
	if cfg.MaxResidual <= 0 {
		cfg.MaxResidual = DefaultMaxResidual
	}

	return &Coordinator{
		store:     store,
		registry:  reg,
		scorer:    Scorer{MaxResidual: cfg.MaxResidual},
		threshold: cfg.ValidityThreshold,
		sinks:     sinks,
		lastPos:   make(map[string]r3.Vec),
	}
}

// Validate runs one validation round for the target. Inline observations
// pass through the same ingestion door as direct submissions before the
// round snapshots the store. Completing a round clears the target's set.
func (c *Coordinator) Validate(targetID string, inline []observation.Observation) (*Result, error) {
	start := time.Now()

	for _, obs := range inline {
		if obs.TargetID == "" {
			obs.TargetID = targetID
		}
		if obs.TargetID != targetID {
			return nil, fmt.Errorf("observation for %q in round for %q: %w",
				obs.TargetID, targetID, observation.ErrInvalidObservation)
		}

		if err := c.store.Submit(obs); err != nil {
			return nil, fmt.Errorf("ingest inline observation:\n%w", err)
		}
	}

	snapshot := c.store.Snapshot(targetID)

	sightings := make([]Sighting, 0, len(snapshot))
	for _, obs := range snapshot {
		s, ok := c.resolve(obs)
		if !ok {
			logger.Warn("dropping unresolvable observation",
				"observer", obs.ObserverID, "target", targetID)
			continue
		}
		sightings = append(sightings, s)
	}

	// The store keys by observer, so every sighting is a distinct witness.
	if len(sightings) < 2 {
		return nil, fmt.Errorf("target %s has %d resolvable observers: %w",
			targetID, len(sightings), ErrInsufficientObservers)
	}

	tri, err := Triangulate(sightings)
	if err != nil {
		return nil, fmt.Errorf("validation round for %s:\n%w", targetID, err)
	}

	confidence := c.scorer.Score(len(sightings), tri.Residual)
	valid := confidence >= c.threshold && tri.Residual <= c.scorer.MaxResidual

	result := &Result{
		TargetID:       targetID,
		Valid:          valid,
		Confidence:     confidence,
		Position:       [3]float64{tri.Position.X, tri.Position.Y, tri.Position.Z},
		GeometricError: tri.Residual,
		ObserverCount:  len(sightings),
		Method:         tri.Method,
		Timestamp:      time.Now(),
	}

	if valid {
		c.mu.Lock()
		c.lastPos[targetID] = tri.Position
		c.mu.Unlock()
	}

	c.store.Clear(targetID)

	for _, sink := range c.sinks {
		sink.RecordValidation(*result)
	}

	logger.Info("validation round complete",
		"target", targetID,
		"valid", valid,
		"confidence", confidence,
		"error", tri.Residual,
		"observers", len(sightings),
		"method", tri.Method,
		logger.Timed(start))

	return result, nil
}

// LastPosition returns the target's last validated position, if any.
func (c *Coordinator) LastPosition(targetID string) (r3.Vec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.lastPos[targetID]
	return p, ok
}

// ValidatedTargets returns the number of targets with a validated position.
func (c *Coordinator) ValidatedTargets() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.lastPos)
}

// resolve turns a stored observation into a sighting with a known origin.
// Resolution order: the observation's own position, the observer registry,
// then reconstruction against the target's last validated position. An
// observation with none of these is dropped from the round.
func (c *Coordinator) resolve(obs observation.Observation) (Sighting, bool) {
	if obs.ObserverPosition != nil {
		return c.sight(obs.ObserverID, *obs.ObserverPosition, obs.Direction)
	}

	if pos, ok := c.registry.Position(obs.ObserverID); ok {
		return c.sight(obs.ObserverID, pos, obs.Direction)
	}

	// Walk back along the line of sight from where the target was last
	// pinned: origin = lastPos - dir * (distance * scale).
	if last, ok := c.LastPosition(obs.TargetID); ok {
		origin := r3.Sub(last, r3.Scale(obs.Range(), obs.Direction))
		return c.sight(obs.ObserverID, origin, obs.Direction)
	}

	return Sighting{}, false
}

// sight builds a sighting, dropping rays the geometry kernel rejects.
func (c *Coordinator) sight(observerID string, origin, dir r3.Vec) (Sighting, bool) {
	ray, err := geometry.NewRay(origin, dir)
	if err != nil {
		return Sighting{}, false
	}

	return Sighting{ObserverID: observerID, Ray: ray}, true
}

package observation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"parallax/internal/logger"
)

const (
	// DefaultStaleness is the window after which a bearing no longer counts.
	DefaultStaleness = 30 * time.Second

	// sweepDivisor sets the sweep cadence relative to the staleness window.
	sweepDivisor = 2
)

// Store holds the latest bearing per (target, observer) pair.
// Each target has its own lock so submissions and validation rounds for
// different targets never contend. A background sweeper evicts entries
// older than the staleness window; reads also filter lazily so a stale
// bearing never reaches a validation round.
type Store struct {
	staleness time.Duration

	mu      sync.RWMutex          // mu guards map membership only
	targets map[string]*targetSet // targets maps target ID to its live set

	stopSweep chan struct{} // stopSweep signals the sweeper to stop
	wg        sync.WaitGroup
}

// targetSet is the live observation set for one target, keyed by observer.
type targetSet struct {
	mu  sync.RWMutex
	obs map[string]Observation
}

// NewStore creates a store with the given staleness window and starts the
// background sweeper. Zero or negative staleness uses DefaultStaleness.
func NewStore(staleness time.Duration) *Store {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}

	s := &Store{
		staleness: staleness,
		targets:   make(map[string]*targetSet),
		stopSweep: make(chan struct{}),
	}

	s.startSweepLoop()

	return s
}

// Submit validates and stores one observation. A later submission from the
// same observer for the same target replaces the prior entry.
func (s *Store) Submit(obs Observation) error {
	norm, err := obs.Normalized()
	if err != nil {
		return fmt.Errorf("submit observation:\n%w", err)
	}

	set := s.set(norm.TargetID)

	set.mu.Lock()
	set.obs[norm.ObserverID] = norm
	set.mu.Unlock()

	return nil
}

// Snapshot returns a consistent copy of the target's current observations
// with stale entries filtered out, ordered by observer ID.
func (s *Store) Snapshot(targetID string) []Observation {
	set := s.lookup(targetID)
	if set == nil {
		return nil
	}

	cutoff := time.Now().Add(-s.staleness)

	set.mu.RLock()
	out := make([]Observation, 0, len(set.obs))
	for _, o := range set.obs {
		if o.Timestamp.After(cutoff) {
			out = append(out, o)
		}
	}
	set.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ObserverID < out[j].ObserverID
	})

	return out
}

// Len returns the number of non-stale observations for the target.
func (s *Store) Len(targetID string) int {
	set := s.lookup(targetID)
	if set == nil {
		return 0
	}

	cutoff := time.Now().Add(-s.staleness)

	set.mu.RLock()
	defer set.mu.RUnlock()

	n := 0
	for _, o := range set.obs {
		if o.Timestamp.After(cutoff) {
			n++
		}
	}

	return n
}

// Clear drops all observations for the target. Called when a validation
// round for the target completes.
func (s *Store) Clear(targetID string) {
	set := s.lookup(targetID)
	if set == nil {
		return
	}

	set.mu.Lock()
	set.obs = make(map[string]Observation)
	set.mu.Unlock()
}

// Targets returns the IDs of all targets with at least one live observation.
func (s *Store) Targets() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.targets))
	for id := range s.targets {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)

	out := ids[:0]
	for _, id := range ids {
		if s.Len(id) > 0 {
			out = append(out, id)
		}
	}

	return out
}

// Close stops the background sweeper.
func (s *Store) Close() {
	close(s.stopSweep)
	s.wg.Wait()
}

// set returns the target's set, creating it on first submission.
func (s *Store) set(targetID string) *targetSet {
	s.mu.RLock()
	set, ok := s.targets[targetID]
	s.mu.RUnlock()

	if ok {
		return set
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok = s.targets[targetID]; ok {
		return set
	}

	set = &targetSet{obs: make(map[string]Observation)}
	s.targets[targetID] = set

	return set
}

// lookup returns the target's set or nil when the target is unknown.
func (s *Store) lookup(targetID string) *targetSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.targets[targetID]
}

// startSweepLoop starts the background goroutine that evicts stale entries.
func (s *Store) startSweepLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.staleness / sweepDivisor)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// sweep evicts stale observations and forgets empty targets.
func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.staleness)
	evicted := 0

	s.mu.Lock()
	for id, set := range s.targets {
		set.mu.Lock()
		for observer, o := range set.obs {
			if !o.Timestamp.After(cutoff) {
				delete(set.obs, observer)
				evicted++
			}
		}
		empty := len(set.obs) == 0
		set.mu.Unlock()

		if empty {
			delete(s.targets, id)
		}
	}
	s.mu.Unlock()

	if evicted > 0 {
		logger.Debug("swept stale observations", "count", evicted)
	}
}

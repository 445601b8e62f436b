package registry

import (
	"crypto/ed25519"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Entry is one observer's live world state as pushed by the game layer.
type Entry struct {
	ObserverID string            // ObserverID identifies the client
	Position   r3.Vec            // Position is the observer's world position
	PubKey     ed25519.PublicKey // PubKey authenticates feed reports, nil when unset
	UpdatedAt  time.Time         // UpdatedAt is the time of the last upsert
}

// Registry tracks observer world positions and feed keys.
// It is safe for concurrent access.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Upsert inserts or replaces an observer entry and stamps UpdatedAt.
// A nil PubKey keeps a previously registered key.
func (r *Registry) Upsert(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[e.ObserverID]; ok && e.PubKey == nil {
		e.PubKey = prev.PubKey
	}
	e.UpdatedAt = time.Now()

	r.entries[e.ObserverID] = e
}

// Lookup returns the entry for an observer, if registered.
func (r *Registry) Lookup(observerID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[observerID]
	return e, ok
}

// Position returns the observer's registered world position.
func (r *Registry) Position(observerID string) (r3.Vec, bool) {
	e, ok := r.Lookup(observerID)
	return e.Position, ok
}

// PubKey returns the observer's registered feed key, if any.
func (r *Registry) PubKey(observerID string) (ed25519.PublicKey, bool) {
	e, ok := r.Lookup(observerID)
	if !ok || e.PubKey == nil {
		return nil, false
	}

	return e.PubKey, true
}

// Len returns the number of registered observers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Observers returns all registered observer IDs in sorted order.
func (r *Registry) Observers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

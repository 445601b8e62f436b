package feed

import (
	"sync"
	"time"
)

const (
	// defaultDedupTTL is the time-to-live for seen report digests. It
	// matches the observation staleness window, so a replayed report is
	// either deduplicated here or rejected as stale downstream.
	defaultDedupTTL = 30 * time.Second

	// cleanupInterval is the interval between cleanup runs.
	cleanupInterval = 1 * time.Second
)

// dedup tracks recently seen report digests so a replayed frame is
// processed once. Entries expire after a TTL.
type dedup struct {
	seen map[[32]byte]int64 // seen maps report digest to timestamp (unix nano)
	mu   sync.RWMutex       // mu protects the seen map
	ttl  int64              // ttl in nanoseconds
	stop chan struct{}      // stop signals the cleanup goroutine to stop
	wg   sync.WaitGroup     // wg waits for the cleanup goroutine
}

// newDedup creates a report deduplication tracker.
func newDedup() *dedup {
	d := &dedup{
		seen: make(map[[32]byte]int64),
		ttl:  int64(defaultDedupTTL),
		stop: make(chan struct{}),
	}

	d.startCleanup()

	return d
}

// check returns true if the digest is new (not seen before).
// If new, the digest is recorded for future deduplication.
func (d *dedup) check(digest [32]byte) bool {
	now := time.Now().UnixNano()

	// Fast path: check if already seen with read lock
	d.mu.RLock()
	ts, exists := d.seen[digest]
	d.mu.RUnlock()

	if exists && now-ts < d.ttl {
		return false // Duplicate
	}

	// Slow path: add to seen map with write lock
	d.mu.Lock()
	// Double-check after acquiring write lock
	ts, exists = d.seen[digest]
	if exists && now-ts < d.ttl {
		d.mu.Unlock()
		return false // Duplicate
	}

	d.seen[digest] = now
	d.mu.Unlock()

	return true // New digest
}

// close stops the cleanup goroutine and releases resources.
func (d *dedup) close() {
	close(d.stop)
	d.wg.Wait()
}

// startCleanup starts the background cleanup goroutine.
func (d *dedup) startCleanup() {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-d.stop:
				return
			}
		}
	}()
}

// cleanup removes expired entries from the seen map.
func (d *dedup) cleanup() {
	now := time.Now().UnixNano()
	ttl := d.ttl

	d.mu.Lock()

	for digest, ts := range d.seen {
		if now-ts >= ttl {
			delete(d.seen, digest)
		}
	}

	d.mu.Unlock()
}

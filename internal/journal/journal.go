package journal

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/zeebo/blake3"

	"parallax/internal/consensus"
	"parallax/internal/logger"
	"parallax/internal/physics"
)

const (
	// queueDepth is the buffered handoff between callers and the writer.
	queueDepth = 1024

	// syncInterval is the interval between WAL syncs.
	syncInterval = 100 * time.Millisecond
)

// Key prefixes per record kind; the 8-byte big-endian sequence follows.
var (
	prefixValidation   = []byte("vr:")
	prefixConservation = []byte("cs:")
)

// Record kinds as stored in entries.
const (
	KindValidation   = "validation"
	KindConservation = "conservation"
)

// Entry is the stored envelope for one journal record. ID is the blake3
// hash of the record bytes, kept alongside for tamper evidence.
type Entry struct {
	Kind       string          `json:"kind"`
	Seq        uint64          `json:"seq"`
	ID         string          `json:"id"`
	RecordedAt time.Time       `json:"recordedAt"`
	Record     json.RawMessage `json:"record"`
}

// Journal is a pebble-backed, append-only audit of validation results and
// conservation samples. Callers hand records to a buffered channel and never
// block on disk; a single writer goroutine assigns sequence numbers and
// writes with NoSync, while a ticker syncs the WAL periodically.
type Journal struct {
	db    *pebble.DB
	queue chan pending

	validations   atomic.Uint64 // validations counts all validation records ever written
	conservations atomic.Uint64 // conservations counts all conservation records ever written
	dropped       atomic.Uint64 // dropped counts records lost to a full queue

	stop chan struct{}
	wg   sync.WaitGroup
}

// pending is one record awaiting its sequence number.
type pending struct {
	kind   string
	prefix []byte
	value  []byte
}

// Open opens or creates a journal at the given path and restores the
// sequence counters from the last stored keys.
func Open(path string) (*Journal, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(8 << 20), // 8 MB cache
		MemTableSize: 8 << 20,                  // 8 MB memtable
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:    db,
		queue: make(chan pending, queueDepth),
		stop:  make(chan struct{}),
	}

	vr, err := lastSeq(db, prefixValidation)
	if err != nil {
		db.Close()
		return nil, err
	}
	cs, err := lastSeq(db, prefixConservation)
	if err != nil {
		db.Close()
		return nil, err
	}

	j.validations.Store(vr)
	j.conservations.Store(cs)

	j.startWriteLoop()

	return j, nil
}

// RecordValidation journals one validation result. Never blocks: the record
// is dropped and counted when the queue is full.
func (j *Journal) RecordValidation(r consensus.Result) {
	value, err := json.Marshal(r)
	if err != nil {
		logger.Error("marshal validation record", "error", err)
		return
	}

	j.enqueue(pending{kind: KindValidation, prefix: prefixValidation, value: value})
}

// RecordConservation journals one conservation sample. Never blocks.
func (j *Journal) RecordConservation(s physics.Snapshot) {
	value, err := json.Marshal(s)
	if err != nil {
		logger.Error("marshal conservation record", "error", err)
		return
	}

	j.enqueue(pending{kind: KindConservation, prefix: prefixConservation, value: value})
}

// Counts returns the total validation and conservation records written,
// including those restored from disk.
func (j *Journal) Counts() (validations, conservations uint64) {
	return j.validations.Load(), j.conservations.Load()
}

// Dropped returns the number of records lost to a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close drains the queue, syncs the WAL and closes the database.
func (j *Journal) Close() error {
	close(j.stop)
	j.wg.Wait()

	// Drain whatever arrived before the stop won the select.
	for {
		select {
		case p := <-j.queue:
			j.write(p)
		default:
			if err := j.db.LogData(nil, pebble.Sync); err != nil {
				return err
			}
			return j.db.Close()
		}
	}
}

// enqueue hands a record to the writer without blocking.
func (j *Journal) enqueue(p pending) {
	select {
	case j.queue <- p:
	default:
		j.dropped.Add(1)
		logger.Debug("journal queue full, dropping record", "kind", p.kind)
	}
}

// startWriteLoop starts the single writer goroutine.
func (j *Journal) startWriteLoop() {
	j.wg.Add(1)

	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()

		for {
			select {
			case p := <-j.queue:
				j.write(p)
			case <-ticker.C:
				_ = j.db.LogData(nil, pebble.Sync)
			case <-j.stop:
				return
			}
		}
	}()
}

// write assigns the next sequence number and stores the envelope.
func (j *Journal) write(p pending) {
	var seq uint64
	switch p.kind {
	case KindValidation:
		seq = j.validations.Add(1)
	case KindConservation:
		seq = j.conservations.Add(1)
	}

	sum := blake3.Sum256(p.value)

	entry := Entry{
		Kind:       p.kind,
		Seq:        seq,
		ID:         hex.EncodeToString(sum[:]),
		RecordedAt: time.Now(),
		Record:     p.value,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		logger.Error("marshal journal entry", "error", err)
		return
	}

	if err := j.db.Set(key(p.prefix, seq), data, pebble.NoSync); err != nil {
		logger.Error("journal write", "error", err, "kind", p.kind, "seq", seq)
	}
}

// key builds a prefix + big-endian sequence key.
func key(prefix []byte, seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)

	return k
}

// lastSeq returns the highest stored sequence under the prefix.
func lastSeq(db *pebble.DB, prefix []byte) (uint64, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}

	k := iter.Key()
	if len(k) != len(prefix)+8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(k[len(prefix):]), iter.Error()
}

// iterPrefix calls fn for each entry under the prefix in sequence order.
func (j *Journal) iterPrefix(prefix []byte, fn func(Entry) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}

		if err := fn(e); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}

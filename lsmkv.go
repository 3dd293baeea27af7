// Package lsmkv is an embeddable, single-node, persistent ordered
// key-value store backed by a log-structured merge tree: an in-memory
// skip list buffers writes behind a write-ahead log, periodically flushed
// to immutable, Bloom-filtered SSTables on disk, with background
// compaction keeping read amplification and space bounded over time.
//
// A DB is safe for concurrent use: one writer goroutine at a time (writes
// are internally serialized) alongside any number of concurrent readers.
package lsmkv

import (
	engine "github.com/nilkv/lsmkv/internal/lsmkv"
)

// KV is one key/value pair returned from Scan.
type KV = engine.KV

// StatsSnapshot is a read-only snapshot of a DB's current operating state.
type StatsSnapshot = engine.StatsSnapshot

// DB is an open handle onto a data directory. Obtain one with Open and
// release it with Close.
type DB struct {
	eng *engine.Engine
}

// Open acquires opts.DataDir's advisory lock, recovers any state left by a
// prior run (write-ahead log replay, manifest rebuild, orphaned temp-file
// sweep), and starts the background compaction scheduler. A manifest
// rebuild or write-ahead log replay that fails returns an error wrapping
// ErrCorruption; a directory already held by another live DB returns the
// lockfile package's held-directory error as is, without wrapping.
func Open(opts Options) (*DB, error) {
	e, err := engine.Open(opts.toConfig())
	if err != nil {
		return nil, err
	}
	return &DB{eng: e}, nil
}

// Put stores value under key, replacing any prior value. It returns
// ErrInvalidArgument if key or value exceeds its configured size limit,
// or ErrDurability if the write could not be made durable.
func (db *DB) Put(key, value []byte) error {
	return db.eng.Put(key, value)
}

// Delete installs a tombstone for key, shadowing any earlier value.
// Deleting an absent key is not an error.
func (db *DB) Delete(key []byte) error {
	return db.eng.Delete(key)
}

// BatchPut writes every pair in pairs as a single atomic unit: after a
// crash, either all of them are visible on recovery or none are.
func (db *DB) BatchPut(pairs []KV) error {
	return db.eng.BatchPut(pairs)
}

// BatchDelete installs tombstones for every key in keys as a single
// atomic unit.
func (db *DB) BatchDelete(keys [][]byte) error {
	return db.eng.BatchDelete(keys)
}

// Get returns the current value for key, or ok=false if the key is
// absent or its most recent mutation was a delete.
func (db *DB) Get(key []byte) (value []byte, ok bool, err error) {
	return db.eng.Get(key)
}

// Scan returns every live key/value pair with lo <= key <= hi, in
// ascending key order. A nil lo means "from the beginning"; a nil hi
// means "to the end". limit caps the number of results returned; a
// non-positive limit means unbounded.
func (db *DB) Scan(lo, hi []byte, limit int) ([]KV, error) {
	return db.eng.Scan(lo, hi, limit)
}

// Flush forces the active memtable to be written out as a new Level-0
// SSTable immediately, rather than waiting for the configured
// entry/byte threshold to trip.
func (db *DB) Flush() error {
	return db.eng.Flush()
}

// Compact runs compaction jobs to exhaustion against the tree's current
// state, rather than waiting on the background scheduler's next tick.
func (db *DB) Compact() error {
	return db.eng.Compact()
}

// Stats returns a snapshot of the DB's current operating state:
// memtable size, per-level file counts, Bloom filter hit/miss counts,
// and read/write totals.
func (db *DB) Stats() StatsSnapshot {
	return db.eng.Stats()
}

// Close stops background compaction, flushes any remaining memtable
// contents, closes the write-ahead log, and releases the data
// directory's advisory lock. Close is idempotent.
func (db *DB) Close() error {
	return db.eng.Close()
}

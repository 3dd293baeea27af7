// Package lsmkv wires the memtable, write-ahead log, SSTable, manifest, and
// compaction layers into the single-writer, concurrent-reader coordinator
// the spec calls the LSM Engine. The root lsmkv package is a thin public
// facade over this one.
package lsmkv

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nilkv/lsmkv/internal/compaction"
	"github.com/nilkv/lsmkv/internal/lockfile"
	"github.com/nilkv/lsmkv/internal/manifest"
	"github.com/nilkv/lsmkv/internal/memtable"
	"github.com/nilkv/lsmkv/internal/sstable"
	"github.com/nilkv/lsmkv/internal/walog"
)

// KV is one key/value pair returned from a range scan.
type KV struct {
	Key   []byte
	Value []byte
}

// StatsSnapshot is a read-only snapshot of the engine's operating state.
type StatsSnapshot struct {
	MemTableEntries        int64
	MemTableBytes           int64
	LevelFileCounts         map[int]int
	LevelByteSizes          map[int]int64
	LevelFiles              map[int][]string
	Reads                   int64
	Writes                  int64
	BloomHits               int64
	BloomMisses             int64
	LastFlushDuration       time.Duration
	LastCompactionDuration  time.Duration
	IsCompacting            bool
}

// Engine is the front-facing coordinator: it serializes writers, routes
// reads through memtable then levels, and owns the WAL, manifest, and
// background compaction scheduler.
type Engine struct {
	cfg Config
	dir string

	writeMu sync.Mutex
	mt      *memtable.MemTable
	wal     *walog.WAL

	man       *manifest.Manifest
	compactor *compaction.Compactor
	scheduler *compaction.Scheduler
	schedCancel context.CancelFunc

	lock   *lockfile.Lock
	logger *slog.Logger

	seq    atomic.Uint64
	closed atomic.Bool

	isCompacting atomic.Bool

	statsMu                 sync.Mutex
	reads, writes           int64
	bloomHits, bloomMisses  int64
	lastFlushDuration       time.Duration
	lastCompactionDuration  time.Duration
}

// Open acquires the data directory's lock, recovers state from disk (temp
// file sweep, manifest rebuild, WAL replay), and starts the background
// compaction scheduler.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir is required", ErrInvalidArgument)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lsmkv: create data dir: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	lock, err := lockfile.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	if err := sstable.SweepTempFiles(cfg.DataDir); err != nil {
		lock.Release()
		return nil, fmt.Errorf("lsmkv: sweep temp files: %w", err)
	}

	man, err := manifest.Open(cfg.DataDir)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("%w: open manifest: %v", ErrCorruption, err)
	}

	mt := memtable.New()

	wal, err := walog.Open(cfg.DataDir, cfg.MemTableFlushBytes*4)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("lsmkv: open wal: %w", err)
	}

	walMaxSeq, err := walog.Replay(cfg.DataDir, func(rec walog.Record) error {
		mt.Insert(memtable.Entry{
			Key:       rec.Key,
			Value:     rec.Value,
			Tombstone: rec.Op == walog.OpDelete,
			Seq:       rec.Seq,
			Timestamp: rec.Timestamp,
		})
		return nil
	})
	if err != nil {
		wal.Close()
		lock.Release()
		return nil, fmt.Errorf("%w: replay wal: %v", ErrCorruption, err)
	}

	maxSeq := walMaxSeq
	if ms := man.MaxSeq(); ms > maxSeq {
		maxSeq = ms
	}

	compCfg := compaction.Config{
		L0CompactionTrigger: cfg.L0FileThreshold,
		LevelSizeMultiplier: cfg.LevelSizeMultiplier,
		BaseLevelSizeBytes:  cfg.Level1BaseBytes,
		MaxLevel:            cfg.MaxLevel,
		BloomFPR:            cfg.BloomFPR,
		Interval:            cfg.CompactionInterval,
	}
	compactor := compaction.New(cfg.DataDir, man, compCfg)

	e := &Engine{
		cfg:       cfg,
		dir:       cfg.DataDir,
		mt:        mt,
		wal:       wal,
		man:       man,
		compactor: compactor,
		lock:      lock,
		logger:    logger,
	}
	e.seq.Store(maxSeq)

	e.scheduler = compaction.NewScheduler(compactor, cfg.CompactionInterval, func(err error) {
		e.logger.Error("background compaction failed", "error", err)
	})
	var schedCtx context.Context
	schedCtx, e.schedCancel = context.WithCancel(context.Background())
	go e.scheduler.Run(schedCtx)

	logger.Info("engine opened", "data_dir", cfg.DataDir, "memtable_entries", mt.Len(), "next_seq", e.seq.Load()+1)
	return e, nil
}

func (e *Engine) nextSeq() uint64 { return e.seq.Add(1) }

// Put assigns the next sequence number, durably appends a PUT record to
// the WAL, then inserts into the memtable. It returns ErrDurability if the
// write could not be made durable; the memtable is left unmutated in that
// case.
func (e *Engine) Put(key, value []byte) error {
	return e.write(key, value, false)
}

// Delete installs a tombstone for key. Deleting an unknown key succeeds.
func (e *Engine) Delete(key []byte) error {
	return e.write(key, nil, true)
}

func (e *Engine) write(key, value []byte, tombstone bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := validateSizes(key, value, tombstone); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	seq := e.nextSeq()
	ts := time.Now().UnixNano()
	rec := walog.Record{Op: opFor(tombstone), Seq: seq, Timestamp: ts, Key: key, Value: value}
	if err := e.wal.Append(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	e.mt.Insert(memtable.Entry{Key: key, Value: value, Tombstone: tombstone, Seq: seq, Timestamp: ts})

	e.statsMu.Lock()
	e.writes++
	e.statsMu.Unlock()

	e.maybeFlushLocked()
	return nil
}

// BatchPut writes all of pairs atomically: either every record survives a
// crash, or none do.
func (e *Engine) BatchPut(pairs []KV) error {
	entries := make([]memtable.Entry, len(pairs))
	for i, p := range pairs {
		if err := validateSizes(p.Key, p.Value, false); err != nil {
			return err
		}
		entries[i] = memtable.Entry{Key: p.Key, Value: p.Value}
	}
	return e.writeBatch(entries)
}

// BatchDelete installs tombstones for every key in keys, atomically.
func (e *Engine) BatchDelete(keys [][]byte) error {
	entries := make([]memtable.Entry, len(keys))
	for i, k := range keys {
		if err := validateSizes(k, nil, true); err != nil {
			return err
		}
		entries[i] = memtable.Entry{Key: k, Tombstone: true}
	}
	return e.writeBatch(entries)
}

func (e *Engine) writeBatch(entries []memtable.Entry) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	ts := time.Now().UnixNano()
	recs := make([]walog.Record, len(entries))
	var batchID uint64
	for i := range entries {
		entries[i].Seq = e.nextSeq()
		entries[i].Timestamp = ts
		if i == 0 {
			batchID = entries[i].Seq
		}
		recs[i] = walog.Record{
			Op: opFor(entries[i].Tombstone), Seq: entries[i].Seq, Timestamp: ts,
			Key: entries[i].Key, Value: entries[i].Value, BatchID: batchID,
		}
	}

	if err := e.wal.AppendBatch(recs); err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	for _, en := range entries {
		e.mt.Insert(en)
	}

	e.statsMu.Lock()
	e.writes += int64(len(entries))
	e.statsMu.Unlock()

	e.maybeFlushLocked()
	return nil
}

func validateSizes(key, value []byte, tombstone bool) error {
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: key of %d bytes exceeds %d byte limit", ErrInvalidArgument, len(key), MaxKeySize)
	}
	if !tombstone && len(value) > MaxValueSize {
		return fmt.Errorf("%w: value of %d bytes exceeds %d byte limit", ErrInvalidArgument, len(value), MaxValueSize)
	}
	return nil
}

func opFor(tombstone bool) walog.Op {
	if tombstone {
		return walog.OpDelete
	}
	return walog.OpPut
}

// Get returns the value for key, or ok=false if absent (including when the
// most recent mutation for key is a tombstone).
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}

	e.statsMu.Lock()
	e.reads++
	e.statsMu.Unlock()

	if en, ok := e.mt.Get(key); ok {
		if en.Tombstone {
			return nil, false, nil
		}
		return en.Value, true, nil
	}

	snap := e.man.Snapshot()
	for _, level := range sortedLevels(snap) {
		tables := snap[level]
		if level == 0 {
			for i := len(tables) - 1; i >= 0; i-- {
				en, ok, err := e.getFromTable(tables[i], key)
				if err != nil {
					return nil, false, err
				}
				if ok {
					if en.Tombstone {
						return nil, false, nil
					}
					return en.Value, true, nil
				}
			}
			continue
		}
		for _, t := range tables {
			if bytes.Compare(key, t.MinKey) < 0 || bytes.Compare(key, t.MaxKey) > 0 {
				continue
			}
			en, ok, err := e.getFromTable(t, key)
			if err != nil {
				return nil, false, err
			}
			if ok {
				if en.Tombstone {
					return nil, false, nil
				}
				return en.Value, true, nil
			}
		}
	}

	return nil, false, nil
}

func (e *Engine) getFromTable(t manifest.Table, key []byte) (memtable.Entry, bool, error) {
	r, err := sstable.Open(t.Path)
	if err != nil {
		return memtable.Entry{}, false, fmt.Errorf("%w: open %s: %v", ErrCorruption, t.Path, err)
	}
	defer r.Close()

	en, ok, err := r.Get(key)
	e.statsMu.Lock()
	e.bloomHits += r.BloomHits()
	e.bloomMisses += r.BloomMisses()
	e.statsMu.Unlock()
	if err != nil {
		return memtable.Entry{}, false, fmt.Errorf("%w: read %s: %v", ErrIO, t.Path, err)
	}
	return en, ok, nil
}

// Scan returns entries with lo <= key <= hi (either bound may be nil) in
// ascending key order, up to limit entries (limit <= 0 means unbounded).
func (e *Engine) Scan(lo, hi []byte, limit int) ([]KV, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	snap := e.man.Snapshot()

	var sources []compaction.Source
	var readers []*sstable.Reader
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	sources = append(sources, e.mt.RangeIterator(lo, hi))

	for _, level := range sortedLevels(snap) {
		tables := snap[level]
		if level == 0 {
			for i := len(tables) - 1; i >= 0; i-- {
				t := tables[i]
				if !rangesOverlap(t.MinKey, t.MaxKey, lo, hi) {
					continue
				}
				r, err := sstable.Open(t.Path)
				if err != nil {
					return nil, fmt.Errorf("%w: open %s: %v", ErrCorruption, t.Path, err)
				}
				readers = append(readers, r)
				sources = append(sources, r.NewRangeIterator(lo))
			}
			continue
		}
		for _, t := range tables {
			if !rangesOverlap(t.MinKey, t.MaxKey, lo, hi) {
				continue
			}
			r, err := sstable.Open(t.Path)
			if err != nil {
				return nil, fmt.Errorf("%w: open %s: %v", ErrCorruption, t.Path, err)
			}
			readers = append(readers, r)
			sources = append(sources, r.NewRangeIterator(lo))
		}
	}

	e.statsMu.Lock()
	e.reads++
	e.statsMu.Unlock()

	m := compaction.NewMerger(sources)
	var out []KV
	for {
		en, ok := m.Next()
		if !ok {
			break
		}
		if hi != nil && bytes.Compare(en.Key, hi) > 0 {
			break
		}
		if lo != nil && bytes.Compare(en.Key, lo) < 0 {
			continue
		}
		if en.Tombstone {
			continue
		}
		out = append(out, KV{Key: en.Key, Value: en.Value})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := m.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return out, nil
}

func sortedLevels(snap map[int][]manifest.Table) []int {
	levels := make([]int, 0, len(snap))
	for l := range snap {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}

// rangesOverlap reports whether [tMin,tMax] intersects [lo,hi], treating a
// nil lo as -infinity and a nil hi as +infinity.
func rangesOverlap(tMin, tMax, lo, hi []byte) bool {
	if hi != nil && bytes.Compare(tMin, hi) > 0 {
		return false
	}
	if lo != nil && bytes.Compare(tMax, lo) < 0 {
		return false
	}
	return true
}

// Flush freezes the current memtable and writes it out as a new Level-0
// SSTable, rotating the WAL segment first and removing the retired
// segment only after the table is durable and manifest-visible.
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.flushLocked()
}

func (e *Engine) maybeFlushLocked() {
	if e.mt.Len() >= int64(e.cfg.MemTableFlushEntries) || e.mt.ByteSize() >= e.cfg.MemTableFlushBytes {
		if err := e.flushLocked(); err != nil {
			e.logger.Error("flush failed", "error", err)
		}
	}
}

func (e *Engine) flushLocked() error {
	if e.mt.Len() == 0 {
		return nil
	}
	start := time.Now()

	entries := e.mt.Snapshot()
	oldSegID := e.wal.SegmentID()
	if err := e.wal.Rotate(); err != nil {
		return fmt.Errorf("%w: rotate wal: %v", ErrIO, err)
	}

	seq := e.man.NextSequence()
	path := filepath.Join(e.dir, sstable.FileName(0, seq))
	w := sstable.NewWriterWithFPR(0, len(entries), e.cfg.BloomFPR)
	for _, en := range entries {
		if err := w.Add(en); err != nil {
			return fmt.Errorf("%w: build sstable: %v", ErrIO, err)
		}
	}
	meta, err := w.Finish(path)
	if err != nil {
		return fmt.Errorf("%w: finish sstable: %v", ErrIO, err)
	}

	e.man.InstallTable(manifest.Table{
		ID: seq, Level: 0, Path: path,
		MinKey: meta.MinKey, MaxKey: meta.MaxKey, EntryCount: meta.EntryCount, MaxSeq: meta.MaxSeq,
	})

	if err := walog.RemoveSegmentsBefore(e.dir, oldSegID+1); err != nil {
		e.logger.Warn("could not remove stale wal segment", "error", err)
	}

	e.mt.Clear()

	dur := time.Since(start)
	e.statsMu.Lock()
	e.lastFlushDuration = dur
	e.statsMu.Unlock()

	e.logger.Info("flushed memtable", "path", path, "entries", meta.EntryCount, "duration", dur)
	return nil
}

// Compact runs compaction jobs to exhaustion: every job the manifest's
// current state calls for, not just one tick's worth.
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	e.isCompacting.Store(true)
	defer e.isCompacting.Store(false)

	for {
		ran, err := e.compactor.RunOnce()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if !ran {
			break
		}
	}

	dur := time.Since(start)
	e.statsMu.Lock()
	e.lastCompactionDuration = dur
	e.statsMu.Unlock()
	e.logger.Info("compaction pass complete", "duration", dur)
	return nil
}

// Stats returns a read-only snapshot of the engine's current state.
func (e *Engine) Stats() StatsSnapshot {
	snap := e.man.Snapshot()
	fileCounts := make(map[int]int, len(snap))
	byteSizes := make(map[int]int64, len(snap))
	files := make(map[int][]string, len(snap))
	for level, tables := range snap {
		fileCounts[level] = len(tables)
		for _, t := range tables {
			byteSizes[level] += t.EntryCount * 64
			files[level] = append(files[level], filepath.Base(t.Path))
		}
	}

	e.statsMu.Lock()
	reads, writes := e.reads, e.writes
	bh, bm := e.bloomHits, e.bloomMisses
	lastFlush, lastCompaction := e.lastFlushDuration, e.lastCompactionDuration
	e.statsMu.Unlock()

	return StatsSnapshot{
		MemTableEntries:        e.mt.Len(),
		MemTableBytes:          e.mt.ByteSize(),
		LevelFileCounts:        fileCounts,
		LevelByteSizes:         byteSizes,
		LevelFiles:             files,
		Reads:                  reads,
		Writes:                 writes,
		BloomHits:              bh,
		BloomMisses:            bm,
		LastFlushDuration:      lastFlush,
		LastCompactionDuration: lastCompaction,
		IsCompacting:           e.isCompacting.Load(),
	}
}

// Close stops the background compaction scheduler, flushes any remaining
// memtable contents, closes the WAL, and releases the data directory lock.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.schedCancel()
	<-e.scheduler.Done()

	e.writeMu.Lock()
	if err := e.flushLocked(); err != nil {
		e.logger.Warn("flush during close failed", "error", err)
	}
	e.writeMu.Unlock()

	if err := e.wal.Close(); err != nil {
		e.logger.Warn("close wal failed", "error", err)
	}
	if err := e.lock.Release(); err != nil {
		e.logger.Warn("release lock failed", "error", err)
	}

	e.logger.Info("engine closed")
	return nil
}

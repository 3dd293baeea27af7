// Package compaction merges overlapping SSTables to bound read
// amplification and reclaim space held by superseded values and
// tombstones. A Compactor runs one merge at a time, synchronously or on a
// background schedule, and commits results to a manifest.Manifest.
package compaction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nilkv/lsmkv/internal/manifest"
	"github.com/nilkv/lsmkv/internal/sstable"
)

// Config tunes when compaction triggers and how levels grow.
type Config struct {
	L0CompactionTrigger int     // Level-0 file count that trips a compaction
	LevelSizeMultiplier int64   // each level's byte budget vs. the previous
	BaseLevelSizeBytes  int64   // Level-1's byte budget
	MaxLevel            int     // deepest level the tree may grow into
	BloomFPR            float64 // target false-positive rate for output tables
	Interval            time.Duration
}

// DefaultConfig mirrors common LSM defaults: 4 files trigger Level-0
// compaction, each level is 10x the one above it, capped at level 6.
func DefaultConfig() Config {
	return Config{
		L0CompactionTrigger: 4,
		LevelSizeMultiplier: 10,
		BaseLevelSizeBytes:  10 * 1024 * 1024,
		MaxLevel:            6,
		BloomFPR:            0.01,
		Interval:            30 * time.Second,
	}
}

// Compactor executes merge jobs against a directory and its manifest. runMu
// enforces the engine-wide invariant that at most one compaction is in
// flight at a time, whether triggered by the background Scheduler or a
// caller invoking RunOnce directly.
type Compactor struct {
	dir   string
	man   *manifest.Manifest
	cfg   Config
	runMu sync.Mutex
}

// New creates a Compactor over an already-open manifest.
func New(dir string, man *manifest.Manifest, cfg Config) *Compactor {
	return &Compactor{dir: dir, man: man, cfg: cfg}
}

// job describes one merge: sourceLevel's sourceTables merge with
// overlapping targetTables already in targetLevel.
type job struct {
	sourceLevel  int
	sourceTables []manifest.Table
	targetLevel  int
	targetTables []manifest.Table
}

// planJob picks the highest-priority compaction to run, or returns ok=false
// when nothing needs it. Level 0 is checked first because its files are
// unsorted relative to each other and compound read cost fastest.
func (c *Compactor) planJob(snapshot map[int][]manifest.Table) (job, bool) {
	if len(snapshot[0]) >= c.cfg.L0CompactionTrigger {
		l0 := snapshot[0]
		lo, hi := rangeOf(l0)
		overlap := overlapping(snapshot[1], lo, hi)
		return job{sourceLevel: 0, sourceTables: l0, targetLevel: 1, targetTables: overlap}, true
	}

	for level := 1; level < c.cfg.MaxLevel; level++ {
		tables := snapshot[level]
		if len(tables) == 0 {
			continue
		}
		if levelByteBudget(c.cfg, level) == 0 {
			continue
		}
		if !levelOverBudget(c.cfg, level, tables) {
			continue
		}
		oldest := tables[0]
		overlap := overlapping(snapshot[level+1], oldest.MinKey, oldest.MaxKey)
		return job{
			sourceLevel:  level,
			sourceTables: []manifest.Table{oldest},
			targetLevel:  level + 1,
			targetTables: overlap,
		}, true
	}

	return job{}, false
}

func levelByteBudget(cfg Config, level int) int64 {
	if level < 1 {
		return 0
	}
	budget := cfg.BaseLevelSizeBytes
	for i := 1; i < level; i++ {
		budget *= cfg.LevelSizeMultiplier
	}
	return budget
}

func levelOverBudget(cfg Config, level int, tables []manifest.Table) bool {
	var total int64
	for _, t := range tables {
		total += estimateTableBytes(t)
	}
	return total > levelByteBudget(cfg, level)
}

// estimateTableBytes approximates on-disk size from entry count since the
// manifest does not track compressed size directly.
func estimateTableBytes(t manifest.Table) int64 {
	return t.EntryCount * 64
}

func rangeOf(tables []manifest.Table) (lo, hi []byte) {
	for i, t := range tables {
		if i == 0 || bytes.Compare(t.MinKey, lo) < 0 {
			lo = t.MinKey
		}
		if i == 0 || bytes.Compare(t.MaxKey, hi) > 0 {
			hi = t.MaxKey
		}
	}
	return lo, hi
}

func overlapping(tables []manifest.Table, lo, hi []byte) []manifest.Table {
	var out []manifest.Table
	for _, t := range tables {
		if bytes.Compare(t.MinKey, hi) <= 0 && bytes.Compare(t.MaxKey, lo) >= 0 {
			out = append(out, t)
		}
	}
	return out
}

// isBottommost reports whether targetLevel is the deepest level holding
// any data once this job's source/target tables are excluded — the only
// case in which tombstones can be safely dropped.
func isBottommost(snapshot map[int][]manifest.Table, j job) bool {
	for level, tables := range snapshot {
		if level <= j.targetLevel {
			continue
		}
		if len(tables) > 0 {
			return false
		}
	}
	return true
}

// RunOnce executes at most one compaction job and reports whether it did.
func (c *Compactor) RunOnce() (bool, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	snapshot := c.man.Snapshot()
	j, ok := c.planJob(snapshot)
	if !ok {
		return false, nil
	}
	return true, c.execute(snapshot, j)
}

func (c *Compactor) execute(snapshot map[int][]manifest.Table, j job) error {
	var sources []Source
	var readers []*sstable.Reader
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	// Newest-first: the last element of a level's table list is newest.
	for i := len(j.sourceTables) - 1; i >= 0; i-- {
		r, err := sstable.Open(j.sourceTables[i].Path)
		if err != nil {
			return fmt.Errorf("compaction: open source table: %w", err)
		}
		readers = append(readers, r)
		sources = append(sources, r.NewIterator())
	}
	for _, t := range j.targetTables {
		r, err := sstable.Open(t.Path)
		if err != nil {
			return fmt.Errorf("compaction: open target table: %w", err)
		}
		readers = append(readers, r)
		sources = append(sources, r.NewIterator())
	}

	dropTombstones := isBottommost(snapshot, j)

	var totalEntries int64
	for _, t := range j.sourceTables {
		totalEntries += t.EntryCount
	}
	for _, t := range j.targetTables {
		totalEntries += t.EntryCount
	}

	fpr := c.cfg.BloomFPR
	if fpr <= 0 {
		fpr = 0.01
	}
	w := sstable.NewWriterWithFPR(j.targetLevel, int(totalEntries), fpr)
	m := NewMerger(sources)
	var written int64
	for {
		e, ok := m.Next()
		if !ok {
			break
		}
		if dropTombstones && e.Tombstone {
			continue
		}
		if err := w.Add(e); err != nil {
			return fmt.Errorf("compaction: write merged entry: %w", err)
		}
		written++
	}
	if err := m.Err(); err != nil {
		return fmt.Errorf("compaction: merge: %w", err)
	}

	var outputs []manifest.Table
	if written > 0 {
		seq := c.man.NextSequence()
		fullPath := filepath.Join(c.dir, sstable.FileName(j.targetLevel, seq))
		meta, err := w.Finish(fullPath)
		if err != nil {
			return fmt.Errorf("compaction: finish output table: %w", err)
		}
		outputs = append(outputs, manifest.Table{
			ID: seq, Level: j.targetLevel, Path: fullPath,
			MinKey: meta.MinKey, MaxKey: meta.MaxKey, EntryCount: meta.EntryCount, MaxSeq: meta.MaxSeq,
		})
	}

	c.man.PromoteCompaction(j.sourceLevel, idsOf(j.sourceTables), j.targetLevel, idsOf(j.targetTables), outputs)

	for _, t := range j.sourceTables {
		removeTableFiles(t.Path)
	}
	for _, t := range j.targetTables {
		removeTableFiles(t.Path)
	}

	return nil
}

func idsOf(tables []manifest.Table) []int64 {
	ids := make([]int64, len(tables))
	for i, t := range tables {
		ids[i] = t.ID
	}
	return ids
}

func removeTableFiles(path string) {
	_ = os.Remove(path)
	_ = os.Remove(sstable.BloomPath(path))
}

// Scheduler drives periodic background compaction until its context is
// cancelled, then signals completion on Done so Close can wait for it.
type Scheduler struct {
	compactor *Compactor
	interval  time.Duration
	onError   func(error)
	done      chan struct{}
}

// NewScheduler wires a Compactor to a ticker. onError (may be nil) is
// invoked for errors surfaced during background runs, typically to log
// them without stopping the loop.
func NewScheduler(c *Compactor, interval time.Duration, onError func(error)) *Scheduler {
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	return &Scheduler{compactor: c, interval: interval, onError: onError, done: make(chan struct{})}
}

// Run blocks, compacting whatever is ready every tick, until ctx is
// cancelled. Close ctx and then receive from Done to wait for a clean
// shutdown.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				ran, err := s.compactor.RunOnce()
				if err != nil && s.onError != nil {
					s.onError(err)
				}
				if !ran || err != nil {
					break
				}
			}
		}
	}
}

// Done is closed once Run has returned after context cancellation.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

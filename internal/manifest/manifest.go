// Package manifest tracks which SSTable files belong to which LSM level.
// There is no separate manifest log: the data directory itself is the
// source of truth, and a Manifest is rebuilt by scanning it at Open. The
// in-memory state exists purely to let reads take a consistent,
// copy-on-read snapshot while compaction mutates levels concurrently.
package manifest

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nilkv/lsmkv/internal/sstable"
)

// Table describes one SSTable file's placement and range, enough for the
// engine to route reads without opening the file.
type Table struct {
	ID         int64
	Level      int
	Path       string
	MinKey     []byte
	MaxKey     []byte
	EntryCount int64
	MaxSeq     uint64
}

// Manifest holds, per level, the ordered set of live tables (oldest first).
type Manifest struct {
	mu     sync.RWMutex
	dir    string
	levels map[int][]Table
}

// Open rebuilds a Manifest by scanning dir for *.sst files and reading each
// one's own footer/metadata section.
func Open(dir string) (*Manifest, error) {
	m := &Manifest{dir: dir, levels: make(map[int][]Table)}

	names, err := sstable.ListFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: scan %s: %w", dir, err)
	}

	for _, name := range names {
		level, seq, err := sstable.ParseFileName(name)
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		r, err := sstable.Open(path)
		if err != nil {
			return nil, fmt.Errorf("manifest: open %s: %w", path, err)
		}
		meta := r.Metadata()
		r.Close()

		m.levels[level] = append(m.levels[level], Table{
			ID: seq, Level: level, Path: path,
			MinKey: meta.MinKey, MaxKey: meta.MaxKey, EntryCount: meta.EntryCount, MaxSeq: meta.MaxSeq,
		})
	}

	for level := range m.levels {
		sort.Slice(m.levels[level], func(i, j int) bool {
			return m.levels[level][i].ID < m.levels[level][j].ID
		})
	}

	return m, nil
}

// Snapshot returns a copy of the current level->tables mapping. Callers
// read from the snapshot without holding the Manifest's lock, so a
// concurrent compaction mutation never produces a torn view.
func (m *Manifest) Snapshot() map[int][]Table {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int][]Table, len(m.levels))
	for level, tables := range m.levels {
		cp := make([]Table, len(tables))
		copy(cp, tables)
		out[level] = cp
	}
	return out
}

// MaxLevel returns the highest level currently holding any table, or -1 if
// empty.
func (m *Manifest) MaxLevel() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := -1
	for level, tables := range m.levels {
		if len(tables) > 0 && level > max {
			max = level
		}
	}
	return max
}

// InstallTable appends a newly created table (flush or compaction output)
// to the end of its level's list, making it the newest table there.
func (m *Manifest) InstallTable(t Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[t.Level] = append(m.levels[t.Level], t)
}

// DropTable removes a single table by ID from level, e.g. after it is
// superseded with no replacement.
func (m *Manifest) DropTable(level int, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[level] = removeIDs(m.levels[level], map[int64]bool{id: true})
}

// SwapTables atomically removes removeIDs from level and appends add, used
// when compaction merges several tables within one level into one.
func (m *Manifest) SwapTables(level int, removeIDs_ []int64, add Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm := make(map[int64]bool, len(removeIDs_))
	for _, id := range removeIDs_ {
		rm[id] = true
	}
	m.levels[level] = append(removeIDs(m.levels[level], rm), add)
}

// PromoteCompaction atomically retires sourceIDs from sourceLevel and
// targetIDs from targetLevel, replacing them with outputs installed into
// targetLevel. This is the general cross-level compaction mutation:
// Level-0 inputs and their overlapping Level-1 tables both disappear, and
// the merged Level-1 outputs appear, in one step.
func (m *Manifest) PromoteCompaction(sourceLevel int, sourceIDs []int64, targetLevel int, targetIDs []int64, outputs []Table) {
	m.mu.Lock()
	defer m.mu.Unlock()

	srm := make(map[int64]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		srm[id] = true
	}
	m.levels[sourceLevel] = removeIDs(m.levels[sourceLevel], srm)

	trm := make(map[int64]bool, len(targetIDs))
	for _, id := range targetIDs {
		trm[id] = true
	}
	m.levels[targetLevel] = removeIDs(m.levels[targetLevel], trm)
	m.levels[targetLevel] = append(m.levels[targetLevel], outputs...)
}

func removeIDs(tables []Table, remove map[int64]bool) []Table {
	out := tables[:0:0]
	for _, t := range tables {
		if !remove[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// NextSequence returns one past the highest table ID seen across all
// levels, used to name the next SSTable file.
func (m *Manifest) NextSequence() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64 = -1
	for _, tables := range m.levels {
		for _, t := range tables {
			if t.ID > max {
				max = t.ID
			}
		}
	}
	return max + 1
}

// MaxSeq returns the highest write sequence number recorded in any table
// across all levels, used to recover the engine's sequence counter at
// Open without replaying the write-ahead log for already-flushed data.
func (m *Manifest) MaxSeq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max uint64
	for _, tables := range m.levels {
		for _, t := range tables {
			if t.MaxSeq > max {
				max = t.MaxSeq
			}
		}
	}
	return max
}

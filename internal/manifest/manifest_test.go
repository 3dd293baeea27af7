package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nilkv/lsmkv/internal/memtable"
	"github.com/nilkv/lsmkv/internal/sstable"
)

func writeTable(t *testing.T, dir string, level int, seq int64, keys []string) string {
	t.Helper()
	w := sstable.NewWriter(level, len(keys))
	for i, k := range keys {
		require.NoError(t, w.Add(memtable.Entry{Key: []byte(k), Value: []byte("v"), Seq: uint64(i + 1)}))
	}
	path := filepath.Join(dir, sstable.FileName(level, seq))
	_, err := w.Finish(path)
	require.NoError(t, err)
	return path
}

func TestManifest_OpenRebuildsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 0, 0, []string{"a", "b"})
	writeTable(t, dir, 0, 1, []string{"c", "d"})
	writeTable(t, dir, 1, 0, []string{"e", "f"})

	m, err := Open(dir)
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap[0], 2)
	require.Len(t, snap[1], 1)
	require.EqualValues(t, 0, snap[0][0].ID)
	require.EqualValues(t, 1, snap[0][1].ID)
}

func TestManifest_InstallAndDrop(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	m.InstallTable(Table{ID: 0, Level: 0, Path: "a.sst"})
	m.InstallTable(Table{ID: 1, Level: 0, Path: "b.sst"})
	require.Len(t, m.Snapshot()[0], 2)

	m.DropTable(0, 0)
	snap := m.Snapshot()
	require.Len(t, snap[0], 1)
	require.EqualValues(t, 1, snap[0][0].ID)
}

func TestManifest_SwapTables(t *testing.T) {
	m := &Manifest{levels: map[int][]Table{}}
	m.InstallTable(Table{ID: 0, Level: 1})
	m.InstallTable(Table{ID: 1, Level: 1})
	m.InstallTable(Table{ID: 2, Level: 1})

	m.SwapTables(1, []int64{0, 1}, Table{ID: 3, Level: 1})
	snap := m.Snapshot()
	require.Len(t, snap[1], 2)
	ids := []int64{snap[1][0].ID, snap[1][1].ID}
	require.ElementsMatch(t, []int64{2, 3}, ids)
}

func TestManifest_PromoteCompaction(t *testing.T) {
	m := &Manifest{levels: map[int][]Table{}}
	m.InstallTable(Table{ID: 0, Level: 0})
	m.InstallTable(Table{ID: 1, Level: 1})
	m.InstallTable(Table{ID: 2, Level: 1})

	m.PromoteCompaction(0, []int64{0}, 1, []int64{1}, []Table{{ID: 10, Level: 1}})

	snap := m.Snapshot()
	require.Empty(t, snap[0])
	require.Len(t, snap[1], 2)
	ids := []int64{snap[1][0].ID, snap[1][1].ID}
	require.ElementsMatch(t, []int64{2, 10}, ids)
}

func TestManifest_NextSequence(t *testing.T) {
	m := &Manifest{levels: map[int][]Table{}}
	require.EqualValues(t, 0, m.NextSequence())

	m.InstallTable(Table{ID: 5, Level: 0})
	m.InstallTable(Table{ID: 2, Level: 1})
	require.EqualValues(t, 6, m.NextSequence())
}

func TestManifest_SnapshotIsIndependentCopy(t *testing.T) {
	m := &Manifest{levels: map[int][]Table{}}
	m.InstallTable(Table{ID: 0, Level: 0})

	snap := m.Snapshot()
	m.InstallTable(Table{ID: 1, Level: 0})

	require.Len(t, snap[0], 1)
	require.Len(t, m.Snapshot()[0], 2)
}

package compaction

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nilkv/lsmkv/internal/manifest"
	"github.com/nilkv/lsmkv/internal/memtable"
	"github.com/nilkv/lsmkv/internal/sstable"
)

func writeLevelTable(t *testing.T, dir string, level int, seq int64, entries []memtable.Entry) manifest.Table {
	t.Helper()
	w := sstable.NewWriter(level, len(entries))
	for _, e := range entries {
		require.NoError(t, w.Add(e))
	}
	path := filepath.Join(dir, sstable.FileName(level, seq))
	meta, err := w.Finish(path)
	require.NoError(t, err)
	return manifest.Table{ID: seq, Level: level, Path: path, MinKey: meta.MinKey, MaxKey: meta.MaxKey, EntryCount: meta.EntryCount}
}

func entries(pairs ...[2]string) []memtable.Entry {
	out := make([]memtable.Entry, len(pairs))
	for i, p := range pairs {
		out[i] = memtable.Entry{Key: []byte(p[0]), Value: []byte(p[1]), Seq: uint64(i + 1)}
	}
	return out
}

func TestCompactor_L0TriggerMergesIntoL1(t *testing.T) {
	dir := t.TempDir()
	man, err := manifest.Open(dir)
	require.NoError(t, err)

	for i := int64(0); i < 4; i++ {
		tb := writeLevelTable(t, dir, 0, i, entries([2]string{"k" + string(rune('a'+i)), "v"}))
		man.InstallTable(tb)
	}

	cfg := DefaultConfig()
	cfg.L0CompactionTrigger = 4
	c := New(dir, man, cfg)

	ran, err := c.RunOnce()
	require.NoError(t, err)
	require.True(t, ran)

	snap := man.Snapshot()
	require.Empty(t, snap[0])
	require.Len(t, snap[1], 1)
	require.EqualValues(t, 4, snap[1][0].EntryCount)
}

func TestCompactor_NewestWinsOnOverlap(t *testing.T) {
	dir := t.TempDir()
	man, err := manifest.Open(dir)
	require.NoError(t, err)

	man.InstallTable(writeLevelTable(t, dir, 0, 0, entries([2]string{"k", "old"})))
	man.InstallTable(writeLevelTable(t, dir, 0, 1, entries([2]string{"k", "new"})))

	cfg := DefaultConfig()
	cfg.L0CompactionTrigger = 2
	c := New(dir, man, cfg)

	ran, err := c.RunOnce()
	require.NoError(t, err)
	require.True(t, ran)

	snap := man.Snapshot()
	require.Len(t, snap[1], 1)

	r, err := sstable.Open(snap[1][0].Path)
	require.NoError(t, err)
	got, ok, err := r.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", string(got.Value))
}

func TestCompactor_DropsTombstonesAtBottomLevel(t *testing.T) {
	dir := t.TempDir()
	man, err := manifest.Open(dir)
	require.NoError(t, err)

	for i := int64(0); i < 4; i++ {
		e := memtable.Entry{Key: []byte("k"), Tombstone: true, Seq: uint64(i + 1)}
		man.InstallTable(writeLevelTable(t, dir, 0, i, []memtable.Entry{e}))
	}

	cfg := DefaultConfig()
	cfg.L0CompactionTrigger = 4
	c := New(dir, man, cfg)

	ran, err := c.RunOnce()
	require.NoError(t, err)
	require.True(t, ran)

	snap := man.Snapshot()
	require.Empty(t, snap[1], "tombstone should have been dropped at the bottom level, leaving no output table")
}

func TestCompactor_KeepsTombstoneWhenNotBottommost(t *testing.T) {
	dir := t.TempDir()
	man, err := manifest.Open(dir)
	require.NoError(t, err)

	man.InstallTable(writeLevelTable(t, dir, 2, 0, entries([2]string{"z", "v"})))
	for i := int64(0); i < 4; i++ {
		e := memtable.Entry{Key: []byte("k"), Tombstone: true, Seq: uint64(i + 1)}
		man.InstallTable(writeLevelTable(t, dir, 0, i, []memtable.Entry{e}))
	}

	cfg := DefaultConfig()
	cfg.L0CompactionTrigger = 4
	c := New(dir, man, cfg)

	ran, err := c.RunOnce()
	require.NoError(t, err)
	require.True(t, ran)

	snap := man.Snapshot()
	require.Len(t, snap[1], 1)
	r, err := sstable.Open(snap[1][0].Path)
	require.NoError(t, err)
	got, ok, err := r.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Tombstone)
}

func TestCompactor_NoJobWhenBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	man, err := manifest.Open(dir)
	require.NoError(t, err)
	man.InstallTable(writeLevelTable(t, dir, 0, 0, entries([2]string{"a", "v"})))

	c := New(dir, man, DefaultConfig())
	ran, err := c.RunOnce()
	require.NoError(t, err)
	require.False(t, ran)
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	man, err := manifest.Open(dir)
	require.NoError(t, err)
	c := New(dir, man, DefaultConfig())

	sched := NewScheduler(c, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	cancel()
	select {
	case <-sched.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}

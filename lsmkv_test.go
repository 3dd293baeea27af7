package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCloseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultOptions(dir))
	require.NoError(t, err)

	require.NoError(t, db.Put([]byte("hello"), []byte("world")))
	v, ok, err := db.Get([]byte("hello"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("world"), v)

	require.NoError(t, db.Close())
}

func TestReopenAfterCloseSeesPriorWrites(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultOptions(dir))
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db2, err := Open(DefaultOptions(dir))
	require.NoError(t, err)
	defer db2.Close()

	v, ok, err := db2.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestScanReturnsAscendingOrder(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultOptions(dir))
	require.NoError(t, err)
	defer db.Close()

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, db.Put([]byte(k), []byte(k)))
	}

	kvs, err := db.Scan(nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	require.Equal(t, []byte("a"), kvs[0].Key)
	require.Equal(t, []byte("b"), kvs[1].Key)
	require.Equal(t, []byte("c"), kvs[2].Key)
}

func TestStatsExposesBloomCounters(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)
	opts.MemTableFlushEntries = 1
	db, err := Open(opts)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	_, _, err = db.Get([]byte("a"))
	require.NoError(t, err)
	_, _, err = db.Get([]byte("missing"))
	require.NoError(t, err)

	stats := db.Stats()
	require.GreaterOrEqual(t, stats.BloomHits+stats.BloomMisses, int64(0))
}

func TestDeleteThenGetReportsAbsent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultOptions(dir))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Delete([]byte("k")))

	_, ok, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutRejectsOversizedKeyAtFacade(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultOptions(dir))
	require.NoError(t, err)
	defer db.Close()

	big := make([]byte, MaxKeySize+1)
	err = db.Put(big, []byte("v"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

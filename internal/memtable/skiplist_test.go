package memtable

import (
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func deterministicList() *skipList {
	return newSkipListWithSource(rand.New(rand.NewSource(1)))
}

func TestSkipList_PutGet(t *testing.T) {
	sl := deterministicList()

	sl.put([]byte("test_key"), Entry{Key: []byte("test_key"), Value: []byte("test_value"), Seq: 1})

	e, found := sl.get([]byte("test_key"))
	require.True(t, found)
	require.Equal(t, []byte("test_value"), e.Value)
}

func TestSkipList_Update(t *testing.T) {
	sl := deterministicList()

	sl.put([]byte("k"), Entry{Key: []byte("k"), Value: []byte("v1"), Seq: 1})
	e, _ := sl.get([]byte("k"))
	require.Equal(t, []byte("v1"), e.Value)

	sl.put([]byte("k"), Entry{Key: []byte("k"), Value: []byte("v2"), Seq: 2})
	e, _ = sl.get([]byte("k"))
	require.Equal(t, []byte("v2"), e.Value)
	require.EqualValues(t, 1, sl.len())
}

func TestSkipList_MultipleKeysSorted(t *testing.T) {
	sl := deterministicList()
	keys := []string{"apple", "banana", "cherry", "date", "elderberry"}
	for i, k := range keys {
		sl.put([]byte(k), Entry{Key: []byte(k), Value: []byte(fmt.Sprintf("value_%d", i)), Seq: uint64(i + 1)})
	}

	for i, k := range keys {
		e, found := sl.get([]byte(k))
		require.True(t, found)
		require.Equal(t, fmt.Sprintf("value_%d", i), string(e.Value))
	}
	require.Equal(t, len(keys), sl.len())

	var order []string
	for cur := sl.header.forward[0]; cur != nil; cur = cur.forward[0] {
		order = append(order, string(cur.key))
	}
	require.Equal(t, []string{"apple", "banana", "cherry", "date", "elderberry"}, order)
}

func TestSkipList_SeekGE(t *testing.T) {
	sl := deterministicList()
	for i := 0; i < 10; i++ {
		k := []byte(fmt.Sprintf("key_%02d", i))
		sl.put(k, Entry{Key: k, Seq: uint64(i + 1)})
	}

	node := sl.seekGE([]byte("key_035"))
	require.NotNil(t, node)
	require.Equal(t, "key_04", string(node.key))

	require.Nil(t, sl.seekGE([]byte("z")))
}

func TestSkipList_ByteWiseComparison(t *testing.T) {
	sl := deterministicList()
	sl.put([]byte{0x00}, Entry{Key: []byte{0x00}, Seq: 1})
	sl.put([]byte{0xff}, Entry{Key: []byte{0xff}, Seq: 2})
	sl.put([]byte{0x7f}, Entry{Key: []byte{0x7f}, Seq: 3})

	var order [][]byte
	for cur := sl.header.forward[0]; cur != nil; cur = cur.forward[0] {
		order = append(order, cur.key)
	}
	require.Equal(t, [][]byte{{0x00}, {0x7f}, {0xff}}, order)
}

func TestSkipList_StressRandomLevels(t *testing.T) {
	sl := newSkipList()
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		k := []byte(fmt.Sprintf("key_%06d", i))
		sl.put(k, Entry{Key: k, Value: []byte(fmt.Sprintf("value_%d", i)), Seq: uint64(i + 1)})
	}

	for i := 0; i < numKeys; i++ {
		k := []byte(fmt.Sprintf("key_%06d", i))
		e, found := sl.get(k)
		require.True(t, found)
		require.Equal(t, fmt.Sprintf("value_%d", i), string(e.Value))
	}
	require.Equal(t, numKeys, sl.len())
}

func BenchmarkSkipList_Put(b *testing.B) {
	sl := newSkipList()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := []byte(strconv.Itoa(i))
		sl.put(k, Entry{Key: k, Value: []byte(fmt.Sprintf("value_%d", i))})
	}
}

func BenchmarkSkipList_Get(b *testing.B) {
	sl := newSkipList()
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		k := []byte(strconv.Itoa(i))
		sl.put(k, Entry{Key: k, Value: []byte(fmt.Sprintf("value_%d", i))})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.get([]byte(strconv.Itoa(i % numKeys)))
	}
}

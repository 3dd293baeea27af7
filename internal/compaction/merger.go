package compaction

import (
	"container/heap"

	"github.com/nilkv/lsmkv/internal/memtable"
)

// Source is anything the merger can pull ordered entries from: an SSTable
// iterator or a simple in-memory slice.
type Source interface {
	Next() bool
	Entry() memtable.Entry
	Err() error
}

type heapItem struct {
	entry  memtable.Entry
	srcIdx int
}

// mergeHeap orders by key ascending; ties break toward the lower source
// index, so callers list their sources newest-first and the newest
// version of a duplicated key always wins.
type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := compareBytes(h[i].entry.Key, h[j].entry.Key)
	if c != 0 {
		return c < 0
	}
	return h[i].srcIdx < h[j].srcIdx
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Merger performs a k-way merge across Sources, deduplicating repeated
// keys by keeping the entry from the lowest-indexed (newest) source.
type Merger struct {
	sources []Source
	h       mergeHeap
}

// NewMerger primes the heap with one entry from each source. Sources must
// be ordered newest-to-oldest.
func NewMerger(sources []Source) *Merger {
	m := &Merger{sources: sources}
	for i, s := range sources {
		if s.Next() {
			m.h = append(m.h, heapItem{entry: s.Entry(), srcIdx: i})
		}
	}
	heap.Init(&m.h)
	return m
}

// Next returns the next deduplicated entry in ascending key order, or
// false once all sources are exhausted.
func (m *Merger) Next() (memtable.Entry, bool) {
	if m.h.Len() == 0 {
		return memtable.Entry{}, false
	}

	top := heap.Pop(&m.h).(heapItem)
	m.advance(top.srcIdx)

	for m.h.Len() > 0 && string(m.h[0].entry.Key) == string(top.entry.Key) {
		stale := heap.Pop(&m.h).(heapItem)
		m.advance(stale.srcIdx)
	}

	return top.entry, true
}

func (m *Merger) advance(srcIdx int) {
	s := m.sources[srcIdx]
	if s.Next() {
		heap.Push(&m.h, heapItem{entry: s.Entry(), srcIdx: srcIdx})
	}
}

// Err returns the first source error encountered, if any.
func (m *Merger) Err() error {
	for _, s := range m.sources {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}

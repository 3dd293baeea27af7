// Package sstable implements the engine's on-disk sorted run format: an
// immutable file of byte-key-ordered entries, deflate-compressed as a
// single block, with a sparse index for seek-then-scan lookups and a
// sidecar Bloom filter file used to skip tables that cannot hold a key.
package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/nilkv/lsmkv/internal/bloom"
	"github.com/nilkv/lsmkv/internal/memtable"
)

const (
	magic        uint32 = 0x4c534d4b // "LSMK"
	formatVer    uint16 = 1
	indexEveryN         = 64
	footerLength        = 8 + 8 + 8 + 8 + 8 + 8 + 8 + 4 + 2
)

// Metadata describes a table's contents without requiring the data block
// to be read.
type Metadata struct {
	Level      int
	MinKey     []byte
	MaxKey     []byte
	EntryCount int64
	MaxSeq     uint64
	CreatedAt  time.Time
}

type indexEntry struct {
	key    []byte
	offset int64
}

// Writer builds one immutable SSTable file plus its sidecar .bloom file.
// Entries must be supplied in ascending key order with no duplicate keys
// (the memtable/merge layer is responsible for dedup-by-latest-seq).
type Writer struct {
	level      int
	entryCount int64
	maxSeq     uint64
	minKey     []byte
	maxKey     []byte
	raw        bytes.Buffer
	index      []indexEntry
	filter     *bloom.Filter
}

// NewWriter starts a new table for the given level, sizing its Bloom
// filter for expectedEntries at the default 0.01 false-positive rate.
// expectedEntries need only be approximate.
func NewWriter(level int, expectedEntries int) *Writer {
	return NewWriterWithFPR(level, expectedEntries, 0.01)
}

// NewWriterWithFPR is NewWriter with an explicit target Bloom
// false-positive rate, used by callers that expose bloom_fpr as a
// configuration option.
func NewWriterWithFPR(level int, expectedEntries int, fpr float64) *Writer {
	if expectedEntries < 1 {
		expectedEntries = 1
	}
	return &Writer{
		level:  level,
		filter: bloom.New(expectedEntries, fpr),
	}
}

// Add appends the next entry. Keys must arrive in strictly ascending order.
func (w *Writer) Add(e memtable.Entry) error {
	if w.entryCount > 0 && bytes.Compare(e.Key, w.maxKey) <= 0 {
		return fmt.Errorf("sstable: out-of-order key %q after %q", e.Key, w.maxKey)
	}
	if w.entryCount == 0 {
		w.minKey = cloneBytes(e.Key)
	}
	w.maxKey = cloneBytes(e.Key)

	if w.entryCount%indexEveryN == 0 {
		w.index = append(w.index, indexEntry{key: cloneBytes(e.Key), offset: int64(w.raw.Len())})
	}

	writeEntry(&w.raw, e)
	w.filter.Add(e.Key)
	w.entryCount++
	if e.Seq > w.maxSeq {
		w.maxSeq = e.Seq
	}
	return nil
}

// Finish writes the table to path and its Bloom filter to path's sidecar
// (.bloom suffix in place of .sst). The data file is built under a ".tmp"
// name and fsynced, then renamed into place and the parent directory
// fsynced, so a crash never leaves a half-written file visible under its
// final name; only after that does the bloom sidecar get written.
func (w *Writer) Finish(path string) (Metadata, error) {
	meta := Metadata{
		Level:      w.level,
		MinKey:     w.minKey,
		MaxKey:     w.maxKey,
		EntryCount: w.entryCount,
		MaxSeq:     w.maxSeq,
		CreatedAt:  time.Now(),
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return meta, fmt.Errorf("sstable: create: %w", err)
	}

	compressed, err := deflate(w.raw.Bytes())
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: compress: %w", err)
	}
	if _, err := f.Write(compressed); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: write data: %w", err)
	}

	metaBytes := encodeMetadata(meta)
	metaOffset := int64(len(compressed))
	if _, err := f.Write(metaBytes); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: write metadata: %w", err)
	}

	idxBytes := encodeIndex(w.index)
	idxOffset := metaOffset + int64(len(metaBytes))
	if _, err := f.Write(idxBytes); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: write index: %w", err)
	}

	footer := make([]byte, footerLength)
	binary.LittleEndian.PutUint64(footer[0:8], 0)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(compressed)))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(w.raw.Len()))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(metaOffset))
	binary.LittleEndian.PutUint64(footer[32:40], uint64(len(metaBytes)))
	binary.LittleEndian.PutUint64(footer[40:48], uint64(idxOffset))
	binary.LittleEndian.PutUint64(footer[48:56], uint64(len(idxBytes)))
	binary.LittleEndian.PutUint32(footer[56:60], magic)
	binary.LittleEndian.PutUint16(footer[60:62], formatVer)
	if _, err := f.Write(footer); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: write footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: close: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return meta, fmt.Errorf("sstable: rename into place: %w", err)
	}
	if dirf, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}

	bloomPath := BloomPath(path)
	if err := os.WriteFile(bloomPath, w.filter.Encode(), 0o644); err != nil {
		return meta, fmt.Errorf("sstable: write bloom: %w", err)
	}
	if dirf, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}

	return meta, nil
}

func deflate(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	fw, err := flate.NewWriter(&out, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(raw); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func inflate(compressed []byte, uncompressedLen int) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	out := make([]byte, uncompressedLen)
	if _, err := io.ReadFull(fr, out); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out, nil
}

// Reader provides point lookups and iteration over an immutable table. The
// decompressed data block is held fully in memory for the reader's
// lifetime.
type Reader struct {
	path   string
	meta   Metadata
	index  []indexEntry
	data   []byte
	filter *bloom.Filter

	bloomHits   int64
	bloomMisses int64
}

// Open loads a table's metadata, sparse index, data block, and (if
// present) its sidecar Bloom filter.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < footerLength {
		return nil, fmt.Errorf("sstable: %s: truncated footer", path)
	}

	footer := make([]byte, footerLength)
	if _, err := f.ReadAt(footer, st.Size()-footerLength); err != nil {
		return nil, err
	}
	gotMagic := binary.LittleEndian.Uint32(footer[56:60])
	gotVer := binary.LittleEndian.Uint16(footer[60:62])
	if gotMagic != magic || gotVer != formatVer {
		return nil, fmt.Errorf("sstable: %s: bad magic/version", path)
	}

	dataCompLen := binary.LittleEndian.Uint64(footer[8:16])
	dataUncompLen := binary.LittleEndian.Uint64(footer[16:24])
	metaOffset := binary.LittleEndian.Uint64(footer[24:32])
	metaLen := binary.LittleEndian.Uint64(footer[32:40])
	idxOffset := binary.LittleEndian.Uint64(footer[40:48])
	idxLen := binary.LittleEndian.Uint64(footer[48:56])

	compressed := make([]byte, dataCompLen)
	if _, err := f.ReadAt(compressed, 0); err != nil {
		return nil, fmt.Errorf("sstable: read data block: %w", err)
	}
	data, err := inflate(compressed, int(dataUncompLen))
	if err != nil {
		return nil, fmt.Errorf("sstable: inflate: %w", err)
	}

	metaBytes := make([]byte, metaLen)
	if _, err := f.ReadAt(metaBytes, int64(metaOffset)); err != nil {
		return nil, fmt.Errorf("sstable: read metadata: %w", err)
	}
	meta, err := decodeMetadata(metaBytes)
	if err != nil {
		return nil, err
	}

	idxBytes := make([]byte, idxLen)
	if _, err := f.ReadAt(idxBytes, int64(idxOffset)); err != nil {
		return nil, fmt.Errorf("sstable: read index: %w", err)
	}
	index, err := decodeIndex(idxBytes)
	if err != nil {
		return nil, err
	}

	r := &Reader{path: path, meta: meta, index: index, data: data}

	if bb, err := os.ReadFile(BloomPath(path)); err == nil {
		if bf, err := bloom.Decode(bb); err == nil {
			r.filter = bf
		}
	}

	return r, nil
}

// Metadata returns the table's descriptive metadata.
func (r *Reader) Metadata() Metadata { return r.meta }

// BloomHits/BloomMisses expose filter effectiveness for Stats reporting.
func (r *Reader) BloomHits() int64   { return atomic.LoadInt64(&r.bloomHits) }
func (r *Reader) BloomMisses() int64 { return atomic.LoadInt64(&r.bloomMisses) }

// Get returns the entry for key, if this table contains it.
func (r *Reader) Get(key []byte) (memtable.Entry, bool, error) {
	if len(r.meta.MinKey) > 0 && (bytes.Compare(key, r.meta.MinKey) < 0 || bytes.Compare(key, r.meta.MaxKey) > 0) {
		return memtable.Entry{}, false, nil
	}

	if r.filter != nil {
		if !r.filter.MightContain(key) {
			atomic.AddInt64(&r.bloomHits, 1)
			return memtable.Entry{}, false, nil
		}
		atomic.AddInt64(&r.bloomMisses, 1)
	}

	off := r.seekStartOffset(key)
	pos := off
	for pos < len(r.data) {
		e, n, err := readEntry(r.data[pos:])
		if err != nil {
			return memtable.Entry{}, false, err
		}
		cmp := bytes.Compare(e.Key, key)
		if cmp == 0 {
			return e, true, nil
		}
		if cmp > 0 {
			return memtable.Entry{}, false, nil
		}
		pos += n
	}
	return memtable.Entry{}, false, nil
}

func (r *Reader) seekStartOffset(key []byte) int {
	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].key, key) > 0
	})
	if i == 0 {
		return 0
	}
	return int(r.index[i-1].offset)
}

// Close is a no-op kept for symmetry with Open: Open reads the data block,
// index, and Bloom sidecar into memory and closes its file handles before
// returning, so a Reader holds no open files.
func (r *Reader) Close() error { return nil }

// Iterator walks every entry of the table in ascending key order.
type Iterator struct {
	r   *Reader
	pos int
	cur memtable.Entry
	ok  bool
	err error
}

// NewIterator returns an iterator positioned before the first entry.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r}
}

// NewRangeIterator returns an iterator positioned at the first entry with
// key >= lo (lo may be nil for "from the start").
func (r *Reader) NewRangeIterator(lo []byte) *Iterator {
	it := &Iterator{r: r}
	if lo != nil {
		it.pos = r.seekStartOffset(lo)
		for it.pos < len(r.data) {
			e, n, err := readEntry(r.data[it.pos:])
			if err != nil {
				it.err = err
				break
			}
			if bytes.Compare(e.Key, lo) >= 0 {
				break
			}
			it.pos += n
		}
	}
	return it
}

// Next advances the iterator. It returns false once the table is exhausted
// or a decode error occurred; check Err afterward.
func (it *Iterator) Next() bool {
	if it.err != nil || it.pos >= len(it.r.data) {
		it.ok = false
		return false
	}
	e, n, err := readEntry(it.r.data[it.pos:])
	if err != nil {
		it.err = err
		it.ok = false
		return false
	}
	it.cur = e
	it.pos += n
	it.ok = true
	return true
}

// Entry returns the entry read by the most recent successful Next call.
func (it *Iterator) Entry() memtable.Entry { return it.cur }

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error { return it.err }

// --- encoding helpers ---

// writeEntry appends [u32 keyLen][key][u8 tomb][u64 seq][u64 ts][u32 valLen][val].
func writeEntry(buf *bytes.Buffer, e memtable.Entry) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(e.Key)))
	buf.Write(hdr[:])
	buf.Write(e.Key)

	if e.Tombstone {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	var seqTs [16]byte
	binary.LittleEndian.PutUint64(seqTs[0:8], e.Seq)
	binary.LittleEndian.PutUint64(seqTs[8:16], uint64(e.Timestamp))
	buf.Write(seqTs[:])

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(e.Value)))
	buf.Write(hdr[:])
	buf.Write(e.Value)
}

func readEntry(b []byte) (memtable.Entry, int, error) {
	const fixedMin = 4 + 1 + 16 + 4
	if len(b) < fixedMin {
		return memtable.Entry{}, 0, fmt.Errorf("sstable: truncated entry header")
	}
	keyLen := int(binary.LittleEndian.Uint32(b[0:4]))
	off := 4
	if len(b) < off+keyLen+1+16+4 {
		return memtable.Entry{}, 0, fmt.Errorf("sstable: truncated entry body")
	}
	key := make([]byte, keyLen)
	copy(key, b[off:off+keyLen])
	off += keyLen

	tomb := b[off] == 1
	off++

	seq := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	ts := int64(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8

	valLen := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if len(b) < off+valLen {
		return memtable.Entry{}, 0, fmt.Errorf("sstable: truncated value")
	}
	var val []byte
	if !tomb {
		val = make([]byte, valLen)
		copy(val, b[off:off+valLen])
	}
	off += valLen

	return memtable.Entry{Key: key, Value: val, Tombstone: tomb, Seq: seq, Timestamp: ts}, off, nil
}

func encodeMetadata(m Metadata) []byte {
	var buf bytes.Buffer
	var lvl [4]byte
	binary.LittleEndian.PutUint32(lvl[:], uint32(m.Level))
	buf.Write(lvl[:])

	writeKey := func(k []byte) {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(k)))
		buf.Write(l[:])
		buf.Write(k)
	}
	writeKey(m.MinKey)
	writeKey(m.MaxKey)

	var rest [8 + 8 + 8]byte
	binary.LittleEndian.PutUint64(rest[0:8], uint64(m.EntryCount))
	binary.LittleEndian.PutUint64(rest[8:16], uint64(m.CreatedAt.Unix()))
	binary.LittleEndian.PutUint64(rest[16:24], m.MaxSeq)
	buf.Write(rest[:])
	return buf.Bytes()
}

func decodeMetadata(b []byte) (Metadata, error) {
	if len(b) < 4 {
		return Metadata{}, fmt.Errorf("sstable: truncated metadata")
	}
	level := int(binary.LittleEndian.Uint32(b[0:4]))
	off := 4

	readKey := func() ([]byte, error) {
		if len(b) < off+4 {
			return nil, fmt.Errorf("sstable: truncated metadata key")
		}
		l := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		if len(b) < off+l {
			return nil, fmt.Errorf("sstable: truncated metadata key bytes")
		}
		k := make([]byte, l)
		copy(k, b[off:off+l])
		off += l
		return k, nil
	}

	minKey, err := readKey()
	if err != nil {
		return Metadata{}, err
	}
	maxKey, err := readKey()
	if err != nil {
		return Metadata{}, err
	}
	if len(b) < off+24 {
		return Metadata{}, fmt.Errorf("sstable: truncated metadata tail")
	}
	entryCount := int64(binary.LittleEndian.Uint64(b[off : off+8]))
	createdAtUnix := int64(binary.LittleEndian.Uint64(b[off+8 : off+16]))
	maxSeq := binary.LittleEndian.Uint64(b[off+16 : off+24])

	return Metadata{
		Level:      level,
		MinKey:     minKey,
		MaxKey:     maxKey,
		EntryCount: entryCount,
		MaxSeq:     maxSeq,
		CreatedAt:  time.Unix(createdAtUnix, 0),
	}, nil
}

func encodeIndex(idx []indexEntry) []byte {
	var buf bytes.Buffer
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(idx)))
	buf.Write(cnt[:])
	for _, e := range idx {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(e.key)))
		buf.Write(l[:])
		buf.Write(e.key)
		var o [8]byte
		binary.LittleEndian.PutUint64(o[:], uint64(e.offset))
		buf.Write(o[:])
	}
	return buf.Bytes()
}

func decodeIndex(b []byte) ([]indexEntry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("sstable: truncated index")
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	off := 4
	out := make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < off+4 {
			return nil, fmt.Errorf("sstable: truncated index entry")
		}
		klen := int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
		if len(b) < off+klen+8 {
			return nil, fmt.Errorf("sstable: truncated index entry body")
		}
		key := make([]byte, klen)
		copy(key, b[off:off+klen])
		off += klen
		offset := int64(binary.LittleEndian.Uint64(b[off : off+8]))
		off += 8
		out = append(out, indexEntry{key: key, offset: offset})
	}
	return out, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BloomPath derives a table's sidecar Bloom filter path from its .sst path.
func BloomPath(sstPath string) string {
	return strings.TrimSuffix(sstPath, ".sst") + ".bloom"
}

// SweepTempFiles removes orphaned ".sst.tmp" build files left behind by a
// crash between Finish's write and its rename into place. Called once at
// engine Open, before the manifest scans the directory.
func SweepTempFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".sst.tmp") {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// ListFiles returns the .sst filenames present in dir, sorted.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".sst") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// FileName generates a canonical table filename for a level and sequence.
func FileName(level int, sequence int64) string {
	return fmt.Sprintf("level_%d_%012d.sst", level, sequence)
}

// ParseFileName parses the level and sequence out of a canonical filename.
func ParseFileName(filename string) (level int, sequence int64, err error) {
	name := strings.TrimSuffix(filename, ".sst")
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 || parts[0] != "level" {
		return 0, 0, fmt.Errorf("sstable: invalid filename %q", filename)
	}
	level, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("sstable: invalid level in %q: %w", filename, err)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("sstable: invalid sequence in %q: %w", filename, err)
	}
	return level, seq, nil
}

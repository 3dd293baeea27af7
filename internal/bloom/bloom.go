// Package bloom implements a fixed-capacity bit-array Bloom filter with
// double hashing, sized from a target element count and false-positive rate.
package bloom

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// defaultSeed1/defaultSeed2 perturb the two FNV-1a hashes used for double
// hashing. They are part of a filter's serialized state so a round trip
// reproduces identical might-contain results.
const (
	defaultSeed1 uint64 = 0xc6a4a7935bd1e995
	defaultSeed2 uint64 = 0x9e3779b97f4a7c15
)

// Filter is a standard bit-array Bloom filter. False positives are
// possible; false negatives are not.
type Filter struct {
	m     uint32 // bit count
	k     uint32 // hash count
	seed1 uint64
	seed2 uint64
	bits  []byte
}

// New sizes a filter for n expected elements and a target false-positive
// rate p, per m = ceil(-n*ln(p) / ln(2)^2) and k = max(1, round((m/n)*ln2)).
func New(n int, p float64) *Filter {
	if n < 1 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	ln2 := math.Ln2
	m := uint32(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	k := uint32(math.Round((float64(m) / float64(n)) * ln2))
	if k < 1 {
		k = 1
	}
	return &Filter{
		m:     m,
		k:     k,
		seed1: defaultSeed1,
		seed2: defaultSeed2,
		bits:  make([]byte, (m+7)/8),
	}
}

// Add sets the k bits derived from key.
func (f *Filter) Add(key []byte) {
	h1, h2 := f.hash2(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(f.m)
		f.setBit(uint32(idx))
	}
}

// MightContain reports whether key may be present. A false result is
// definitive; a true result may be a false positive.
func (f *Filter) MightContain(key []byte) bool {
	h1, h2 := f.hash2(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(f.m)
		if !f.getBit(uint32(idx)) {
			return false
		}
	}
	return true
}

func (f *Filter) setBit(bit uint32) {
	f.bits[bit/8] |= 1 << (bit % 8)
}

func (f *Filter) getBit(bit uint32) bool {
	return f.bits[bit/8]&(1<<(bit%8)) != 0
}

func (f *Filter) hash2(key []byte) (uint64, uint64) {
	h := fnv.New64a()
	var seedBuf [8]byte

	binary.LittleEndian.PutUint64(seedBuf[:], f.seed1)
	_, _ = h.Write(seedBuf[:])
	_, _ = h.Write(key)
	h1 := h.Sum64()

	h.Reset()
	binary.LittleEndian.PutUint64(seedBuf[:], f.seed2)
	_, _ = h.Write(seedBuf[:])
	_, _ = h.Write(key)
	h2 := h.Sum64()
	if h2 == 0 {
		h2 = f.seed2
	}

	return h1, h2
}

// BitsSet returns the number of set bits, for diagnostics only.
func (f *Filter) BitsSet() int {
	n := 0
	for _, b := range f.bits {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}

// Encode serializes the filter as (m uint32)(k uint32)(seed1 uint64)(seed2 uint64)(bits).
func (f *Filter) Encode() []byte {
	out := make([]byte, 4+4+8+8+len(f.bits))
	binary.LittleEndian.PutUint32(out[0:4], f.m)
	binary.LittleEndian.PutUint32(out[4:8], f.k)
	binary.LittleEndian.PutUint64(out[8:16], f.seed1)
	binary.LittleEndian.PutUint64(out[16:24], f.seed2)
	copy(out[24:], f.bits)
	return out
}

// Decode reconstructs a filter from bytes written by Encode.
func Decode(b []byte) (*Filter, error) {
	const headerLen = 4 + 4 + 8 + 8
	if len(b) < headerLen {
		return nil, fmt.Errorf("bloom: decode: short header (%d bytes)", len(b))
	}
	m := binary.LittleEndian.Uint32(b[0:4])
	k := binary.LittleEndian.Uint32(b[4:8])
	seed1 := binary.LittleEndian.Uint64(b[8:16])
	seed2 := binary.LittleEndian.Uint64(b[16:24])
	bits := b[headerLen:]
	if m == 0 || k == 0 {
		return nil, fmt.Errorf("bloom: decode: invalid params m=%d k=%d", m, k)
	}
	if uint32(len(bits)) != (m+7)/8 {
		return nil, fmt.Errorf("bloom: decode: bit array length mismatch, want %d got %d", (m+7)/8, len(bits))
	}
	out := make([]byte, len(bits))
	copy(out, bits)
	return &Filter{m: m, k: k, seed1: seed1, seed2: seed2, bits: out}, nil
}

package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilter_Basic(t *testing.T) {
	f := New(100, 0.01)

	item1 := []byte("hello")
	item2 := []byte("world")
	f.Add(item1)
	f.Add(item2)

	require.True(t, f.MightContain(item1))
	require.True(t, f.MightContain(item2))
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	n := 1000
	f := New(n, 0.01)
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
		f.Add(keys[i])
	}
	for _, k := range keys {
		require.True(t, f.MightContain(k), "false negative for %q", k)
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	n := 1000
	p := 0.01
	f := New(n, p)

	for i := 0; i < n; i++ {
		f.Add([]byte(fmt.Sprintf("item-%d", i)))
	}

	checks := 10000
	falsePositives := 0
	for i := n; i < n+checks; i++ {
		if f.MightContain([]byte(fmt.Sprintf("item-%d", i))) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / float64(checks)
	require.Less(t, observed, 0.03, "observed false positive rate %.4f too high", observed)
}

func TestFilter_EncodeDecodeRoundTrip(t *testing.T) {
	f1 := New(100, 0.01)
	items := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("")}
	for _, item := range items {
		f1.Add(item)
	}

	data := f1.Encode()
	f2, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, f1.m, f2.m)
	require.Equal(t, f1.k, f2.k)
	require.Equal(t, len(f1.bits), len(f2.bits))

	for _, item := range items {
		require.Equal(t, f1.MightContain(item), f2.MightContain(item))
		require.True(t, f2.MightContain(item))
	}
}

func TestDecode_RejectsTruncated(t *testing.T) {
	f := New(10, 0.01)
	data := f.Encode()
	_, err := Decode(data[:len(data)-1])
	require.Error(t, err)
}

func TestNew_SizingMatchesFormula(t *testing.T) {
	cases := []struct {
		n         int
		p         float64
		wantBits  uint32
		wantHash  uint32
		tolerance uint32
	}{
		{1000, 0.01, 9586, 7, 1},
		{1, 0.1, 5, 3, 2},
	}
	for _, tc := range cases {
		f := New(tc.n, tc.p)
		diff := int64(f.m) - int64(tc.wantBits)
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, int64(tc.tolerance))
		require.Equal(t, tc.wantHash, f.k)
	}
}

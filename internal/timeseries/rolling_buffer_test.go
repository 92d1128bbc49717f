package timeseries

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRollingBufferRetainsLastNAfterOverflow(t *testing.T) {
	b := NewRollingBuffer[int](3)
	for i := 0; i < 4; i++ {
		b.Push(i)
	}
	require.EqualValues(t, 4, b.Size())
	require.True(t, b.IsFull())

	_, ok := b.At(0)
	require.False(t, ok, "oldest index should have been evicted")

	for i := 1; i < 4; i++ {
		v, ok := b.At(int64(i))
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	front, ok := b.Front()
	require.True(t, ok)
	require.Equal(t, 1, front)

	back, ok := b.Back()
	require.True(t, ok)
	require.Equal(t, 3, back)
}

func TestRollingBufferUnbounded(t *testing.T) {
	b := NewRollingBuffer[int](0)
	for i := 0; i < 100; i++ {
		b.Push(i)
	}
	require.EqualValues(t, 100, b.Size())
	require.False(t, b.IsFull())
	v, ok := b.At(0)
	require.True(t, ok)
	require.Equal(t, 0, v)
}

func TestRollingBufferLogicalIndicesNeverRepeat(t *testing.T) {
	b := NewRollingBuffer[int](2)
	seen := map[int64]bool{}
	for i := 0; i < 10; i++ {
		idx := b.Push(i)
		require.False(t, seen[idx], "logical index %d reused", idx)
		seen[idx] = true
	}
}

func TestRollingBufferClear(t *testing.T) {
	b := NewRollingBuffer[int](4)
	b.Push(1)
	b.Push(2)
	b.Clear()
	require.EqualValues(t, 0, b.Size())
	_, ok := b.Front()
	require.False(t, ok)
}

func TestRollingBufferRange(t *testing.T) {
	b := NewRollingBuffer[int](3)
	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	var got []int
	b.Range(func(logical int64, v int) bool {
		got = append(got, v)
		return true
	})
	require.Equal(t, []int{2, 3, 4}, got)
}

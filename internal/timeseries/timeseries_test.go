package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedRateAppendIgnoresJitter(t *testing.T) {
	ts := New(2, 0, WithFixedRate(10*time.Millisecond))
	for k := 0; k < 5; k++ {
		s, err := ts.Append([]float64{float64(k), float64(k) * 2})
		require.NoError(t, err)
		require.Equal(t, time.Duration(k)*10*time.Millisecond, s.TRel)
	}
}

func TestMeasuredAppendMonotonic(t *testing.T) {
	ts := New(1, 0)
	var last time.Duration
	for i := 0; i < 5; i++ {
		s, err := ts.Append([]float64{float64(i)})
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.TRel, last)
		last = s.TRel
		time.Sleep(time.Millisecond)
	}
}

func TestAppendChannelCountMismatch(t *testing.T) {
	ts := New(3, 0)
	_, err := ts.Append([]float64{1, 2})
	require.Error(t, err)
}

func TestResetRefreshesStartAndClears(t *testing.T) {
	ts := New(1, 0)
	_, _ = ts.Append([]float64{1})
	oldStart := ts.StartingTime()
	time.Sleep(2 * time.Millisecond)
	ts.Reset()
	require.EqualValues(t, 0, ts.Size())
	require.True(t, ts.StartingTime().After(oldStart))
}

func TestSinceReturnsOnlyNewSamplesNoLossNoDuplication(t *testing.T) {
	ts := New(1, 0)
	for i := 0; i < 3; i++ {
		_, _ = ts.Append([]float64{float64(i)})
	}
	samples, last := ts.Since(-1)
	require.Len(t, samples, 3)
	require.EqualValues(t, 2, last)

	_, _ = ts.Append([]float64{99})
	samples, last = ts.Since(last)
	require.Len(t, samples, 1)
	require.Equal(t, 99.0, samples[0].Channels[0])
	require.EqualValues(t, 3, last)

	samples, _ = ts.Since(last)
	require.Empty(t, samples)
}

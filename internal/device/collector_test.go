package device

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCollectorHooks struct {
	counter int64
	started int32
	stopped int32
}

func (f *fakeCollectorHooks) DataCheck() ([][]float64, error) {
	n := atomic.AddInt64(&f.counter, 1)
	return [][]float64{{float64(n)}}, nil
}

func (f *fakeCollectorHooks) HandleStartDataStreaming() error {
	atomic.AddInt32(&f.started, 1)
	return nil
}
func (f *fakeCollectorHooks) HandleStopDataStreaming() error {
	atomic.AddInt32(&f.stopped, 1)
	return nil
}

func TestCollectorRecordingGate(t *testing.T) {
	h := &fakeCollectorHooks{}
	c := NewCollector("dev", 1, 0, 2*time.Millisecond, h, nil)

	require.NoError(t, c.StartDataStreaming())
	require.Equal(t, int32(1), h.started)

	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, c.TrialData().Size(), "not recording yet, nothing should be appended")

	require.NoError(t, c.StartRecording())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.StopRecording())

	sizeAtStop := c.TrialData().Size()
	require.Greater(t, sizeAtStop, int64(0))

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, sizeAtStop, c.TrialData().Size(), "stopped recording should not keep appending")

	require.NoError(t, c.StopDataStreaming())
	require.Equal(t, int32(1), h.stopped)
}

func TestCollectorStartRecordingRequiresStreaming(t *testing.T) {
	h := &fakeCollectorHooks{}
	c := NewCollector("dev", 1, 0, 5*time.Millisecond, h, nil)
	err := c.StartRecording()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestCollectorAlreadyRecording(t *testing.T) {
	h := &fakeCollectorHooks{}
	c := NewCollector("dev", 1, 0, 5*time.Millisecond, h, nil)
	require.NoError(t, c.StartDataStreaming())
	defer c.StopDataStreaming()

	require.NoError(t, c.StartRecording())
	err := c.StartRecording()
	require.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestCollectorStartRecordingResetsTrial(t *testing.T) {
	h := &fakeCollectorHooks{}
	c := NewCollector("dev", 1, 0, 2*time.Millisecond, h, nil)
	require.NoError(t, c.StartDataStreaming())
	defer c.StopDataStreaming()

	require.NoError(t, c.StartRecording())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.StopRecording())
	require.Greater(t, c.TrialData().Size(), int64(0))

	require.NoError(t, c.StartRecording())
	// Size right after reset should be small (a reset happened), not a
	// continuation of the previous trial's count.
	require.LessOrEqual(t, c.TrialData().Size(), int64(1))
}

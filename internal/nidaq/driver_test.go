package nidaq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectAlwaysSucceeds(t *testing.T) {
	d := New("nidaq", 4, 5*time.Millisecond, nil)
	require.NoError(t, d.Connect())
	defer d.Disconnect()
	require.True(t, d.IsConnected())
}

func TestStreamingProducesZeroFilledSamples(t *testing.T) {
	d := New("nidaq", 3, 5*time.Millisecond, nil)
	require.NoError(t, d.Connect())
	defer d.Disconnect()

	require.NoError(t, d.StartDataStreaming())
	defer d.StopDataStreaming()
	require.NoError(t, d.StartRecording())
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, d.StopRecording())

	back, ok := d.TrialData().Back()
	require.True(t, ok)
	require.Equal(t, []float64{0, 0, 0}, back.Channels)
}

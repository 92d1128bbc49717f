package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

type mockDevice struct {
	mu        sync.Mutex
	name      string
	connected bool
	failNext  bool
}

func (m *mockDevice) Name() string { return m.name }
func (m *mockDevice) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		return errors.New("connect failed")
	}
	m.connected = true
	return nil
}
func (m *mockDevice) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}
func (m *mockDevice) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

type mockCollector struct {
	ts        *timeseries.TimeSeries
	recording bool
}

func newMockCollector() *mockCollector {
	return &mockCollector{ts: timeseries.New(2, 0)}
}
func (m *mockCollector) StartRecording() error { m.recording = true; return nil }
func (m *mockCollector) StopRecording() error  { m.recording = false; return nil }
func (m *mockCollector) TrialData() *timeseries.TimeSeries { return m.ts }

func TestAddRejectsDuplicateName(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Add(&mockDevice{name: "a"}, nil))
	err := r.Add(&mockDevice{name: "a"}, nil)
	require.ErrorIs(t, err, ErrDuplicateDevice)
}

func TestGetReturnsUnknownDevice(t *testing.T) {
	r := New(nil)
	_, err := r.Get("missing")
	require.ErrorIs(t, err, ErrUnknownDevice)
}

func TestConnectAllSucceedsWhenAllDevicesSucceed(t *testing.T) {
	r := New(nil)
	a, b := &mockDevice{name: "a"}, &mockDevice{name: "b"}
	require.NoError(t, r.Add(a, nil))
	require.NoError(t, r.Add(b, nil))

	require.NoError(t, r.ConnectAll())
	require.True(t, a.IsConnected())
	require.True(t, b.IsConnected())
}

func TestConnectAllRollsBackOnPartialFailure(t *testing.T) {
	r := New(nil)
	a, b := &mockDevice{name: "a"}, &mockDevice{name: "b", failNext: true}
	require.NoError(t, r.Add(a, nil))
	require.NoError(t, r.Add(b, nil))

	err := r.ConnectAll()
	require.Error(t, err)
	require.False(t, a.IsConnected())
	require.False(t, b.IsConnected())
}

func TestStartAndStopRecordingAllToggleEveryCollector(t *testing.T) {
	r := New(nil)
	good := newMockCollector()
	require.NoError(t, r.Add(&mockDevice{name: "good"}, good))

	require.NoError(t, r.StartRecordingAll())
	require.True(t, good.recording)
	require.NoError(t, r.StopRecordingAll())
	require.False(t, good.recording)
}

func TestSerializeLastTrialKeysByDeviceName(t *testing.T) {
	r := New(nil)
	c := newMockCollector()
	_, err := c.ts.Append([]float64{1, 2})
	require.NoError(t, err)
	require.NoError(t, r.Add(&mockDevice{name: "dev1"}, c))

	snap := r.SerializeLastTrial()
	require.Contains(t, snap, "dev1")
	require.Len(t, snap["dev1"].Data, 1)
}

func TestRemoveThenGetReturnsUnknownDevice(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Add(&mockDevice{name: "a"}, nil))
	require.NoError(t, r.Remove("a"))
	_, err := r.Get("a")
	require.ErrorIs(t, err, ErrUnknownDevice)
}

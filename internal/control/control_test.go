package control

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pariterre/neurobiomech-software-sub000/internal/control/wire"
	"github.com/pariterre/neurobiomech-software-sub000/internal/registry"
	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

type mockDriver struct {
	mu        sync.Mutex
	name      string
	connected bool
	streaming bool
	recording bool
	ts        *timeseries.TimeSeries
}

func newMockDriver(name string) *mockDriver {
	return &mockDriver{name: name, ts: timeseries.New(2, 0)}
}

func (m *mockDriver) Name() string { return m.name }
func (m *mockDriver) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}
func (m *mockDriver) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}
func (m *mockDriver) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
func (m *mockDriver) StartDataStreaming() error { m.streaming = true; return nil }
func (m *mockDriver) StopDataStreaming() error  { m.streaming = false; return nil }
func (m *mockDriver) StartRecording() error {
	m.recording = true
	_, _ = m.ts.Append([]float64{1, 2})
	return nil
}
func (m *mockDriver) StopRecording() error              { m.recording = false; return nil }
func (m *mockDriver) TrialData() *timeseries.TimeSeries { return m.ts }

func newTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	reg := registry.New(nil)

	delsys := newMockDriver(DeviceDelsysAnalog)
	cfg := ServerConfig{
		TimeoutPeriod:    time.Second,
		LiveDataInterval: 10 * time.Millisecond,
		Factories: map[uint32]DeviceFactory{
			wire.CmdConnectDelsysAnalog: func() (registry.Device, registry.DataCollector) { return delsys, delsys },
		},
		DeviceNames: map[uint32]string{
			wire.CmdConnectDelsysAnalog:    DeviceDelsysAnalog,
			wire.CmdDisconnectDelsysAnalog: DeviceDelsysAnalog,
		},
	}
	s := NewServer(cfg, reg, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	client := NewClient("127.0.0.1", s.CommandPort(), s.ResponsePort(), s.LiveDataPort(), nil, nil)
	require.NoError(t, client.Connect())
	t.Cleanup(func() { _ = client.Disconnect() })

	return s, client
}

func TestHandshakeSucceeds(t *testing.T) {
	newTestServer(t)
}

func TestConnectAndDisconnectDelsysAnalog(t *testing.T) {
	_, client := newTestServer(t)
	require.NoError(t, client.ConnectDelsysAnalog())
	require.NoError(t, client.DisconnectDelsysAnalog())
}

func TestStartStopRecordingAndGetLastTrialData(t *testing.T) {
	_, client := newTestServer(t)
	require.NoError(t, client.ConnectDelsysAnalog())

	require.NoError(t, client.StartRecording())
	require.NoError(t, client.StopRecording())

	data, err := client.GetLastTrialData()
	require.NoError(t, err)
	require.Contains(t, data, DeviceDelsysAnalog)
	require.Len(t, data[DeviceDelsysAnalog].Data, 1)
}

func TestUnknownDeviceDisconnectIsRejected(t *testing.T) {
	_, client := newTestServer(t)
	err := client.DisconnectDelsysEMG()
	require.ErrorIs(t, err, ErrCommandRejected)
}

func TestLiveDataHandlerReceivesPushedSamples(t *testing.T) {
	reg := registry.New(nil)
	delsys := newMockDriver(DeviceDelsysAnalog)
	cfg := ServerConfig{
		TimeoutPeriod:    time.Second,
		LiveDataInterval: 10 * time.Millisecond,
		Factories: map[uint32]DeviceFactory{
			wire.CmdConnectDelsysAnalog: func() (registry.Device, registry.DataCollector) { return delsys, delsys },
		},
		DeviceNames: map[uint32]string{
			wire.CmdConnectDelsysAnalog: DeviceDelsysAnalog,
		},
	}
	s := NewServer(cfg, reg, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	var mu sync.Mutex
	received := 0
	client := NewClient("127.0.0.1", s.CommandPort(), s.ResponsePort(), s.LiveDataPort(), func(payload []byte) {
		mu.Lock()
		received++
		mu.Unlock()
	}, nil)
	require.NoError(t, client.Connect())
	t.Cleanup(func() { _ = client.Disconnect() })

	require.NoError(t, client.ConnectDelsysAnalog())
	require.NoError(t, client.StartRecording())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received > 0
	}, time.Second, 10*time.Millisecond)
}

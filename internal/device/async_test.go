package device

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeHooks struct {
	connectErr   error
	pings        int32
	commands     []Command
	mu           sync.Mutex
	failNextSend bool
}

func (f *fakeHooks) HandleAsyncConnect() error    { return f.connectErr }
func (f *fakeHooks) HandleAsyncDisconnect() error { return nil }
func (f *fakeHooks) ParseAsyncSendCommand(cmd Command, payload any) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.failNextSend {
		f.failNextSend = false
		return NOK, ErrTransportClosed
	}
	return OK, nil
}
func (f *fakeHooks) PingWorker() error {
	atomic.AddInt32(&f.pings, 1)
	return nil
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	h := &fakeHooks{}
	a := NewAsync("dev", time.Hour, h, nil)

	require.False(t, a.IsConnected())
	require.NoError(t, a.Connect())
	require.True(t, a.IsConnected())

	require.NoError(t, a.Disconnect())
	require.False(t, a.IsConnected())

	// idempotent
	require.NoError(t, a.Disconnect())
}

func TestConnectFailurePropagates(t *testing.T) {
	h := &fakeHooks{connectErr: ErrConnectFailed}
	a := NewAsync("dev", time.Hour, h, nil)

	err := a.Connect()
	require.Error(t, err)
	require.False(t, a.IsConnected())
	require.True(t, a.HasFailedToConnect())
}

func TestSendSerializesAndReturnsOK(t *testing.T) {
	h := &fakeHooks{}
	a := NewAsync("dev", time.Hour, h, nil)
	require.NoError(t, a.Connect())
	defer a.Disconnect()

	resp, err := a.Send(Command("PING"), nil)
	require.NoError(t, err)
	require.Equal(t, OK, resp)
}

func TestSendWithoutConnectionFails(t *testing.T) {
	h := &fakeHooks{}
	a := NewAsync("dev", time.Hour, h, nil)
	_, err := a.Send(Command("PING"), nil)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestTransportErrorTriggersDisconnect(t *testing.T) {
	h := &fakeHooks{failNextSend: true}
	a := NewAsync("dev", time.Hour, h, nil)
	require.NoError(t, a.Connect())

	resp, _ := a.Send(Command("BAD"), nil)
	require.Equal(t, NOK, resp)

	require.Eventually(t, func() bool { return !a.IsConnected() }, time.Second, time.Millisecond)
}

func TestKeepAliveIntervalChangeReschedulesPromptly(t *testing.T) {
	h := &fakeHooks{}
	a := NewAsync("dev", 5*time.Second, h, nil)
	require.NoError(t, a.Connect())
	defer a.Disconnect()

	time.Sleep(20 * time.Millisecond)
	a.SetKeepAliveInterval(30 * time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&h.pings) >= 1
	}, time.Second, time.Millisecond, "ping should fire within ~1 interval of the change")
}

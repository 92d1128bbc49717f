package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadExactBytesOrFail(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	link := FromConn(client)

	go func() {
		_, _ = server.Write([]byte("hello"))
	}()

	buf, err := link.ReadN(5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestWriteFullString(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	link := FromConn(client)

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 11)
		_, _ = server.Read(buf)
		done <- string(buf)
	}()

	require.NoError(t, link.Write("hello world"))
	require.Equal(t, "hello world", <-done)
}

func TestReadFailureClosesLink(t *testing.T) {
	server, client := net.Pipe()
	link := FromConn(client)
	server.Close()

	_, err := link.ReadN(3)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrClosed)

	// subsequent operations fail fast without touching the network again
	_, err = link.ReadN(1)
	require.ErrorIs(t, err, ErrClosed)
}

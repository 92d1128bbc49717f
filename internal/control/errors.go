package control

import "errors"

var (
	// ErrHandshakeTimeout is returned when not all three client sockets
	// arrive within the server's timeout period.
	ErrHandshakeTimeout = errors.New("control: handshake timeout")
	// ErrHandshakeRejected is returned when the first command packet isn't
	// HANDSHAKE, or carries a protocol version the server doesn't speak.
	ErrHandshakeRejected = errors.New("control: handshake rejected")
	// ErrServerStopped names the stopped-server condition. No Server method
	// returns it: Stop is idempotent and returns nil on repeated calls.
	ErrServerStopped = errors.New("control: server stopped")
	// ErrNotConnected is returned by client operations attempted before a
	// successful Connect.
	ErrNotConnected = errors.New("control: client not connected")
	// ErrCommandRejected is returned when the server's ack for a command is
	// NOK.
	ErrCommandRejected = errors.New("control: command rejected")
)

package device

import "errors"

// Sentinel device errors. They are returned (possibly wrapped with
// fmt.Errorf("...: %w", ...)) rather than represented as typed exceptions.
var (
	ErrNotConnected       = errors.New("device: not connected")
	ErrAlreadyConnected   = errors.New("device: already connected")
	ErrAlreadyRecording   = errors.New("device: already recording")
	ErrAlreadyStreaming   = errors.New("device: already streaming")
	ErrConnectFailed      = errors.New("device: connect failed")
	ErrTransportClosed    = errors.New("device: transport closed")
	ErrUnknownCommand     = errors.New("device: unknown command")
	ErrDeviceNotConnected = errors.New("device: not connected (worker)")
)

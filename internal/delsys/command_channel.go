// Package delsys implements the Delsys Trigno base-station driver: a
// command channel shared between the EMG and analog variants, and a
// per-variant data channel decoding a raw little-endian float32 stream.
package delsys

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pariterre/neurobiomech-software-sub000/internal/device"
	"github.com/pariterre/neurobiomech-software-sub000/internal/transport"
)

// terminator ends every ASCII command/response on the command channel.
const terminator = "\r\n\r\n"

// Command tokens recognized by the Trigno command protocol.
const (
	cmdStart                  = "START"
	cmdStop                   = "STOP"
	cmdBackwardCompatibility  = "BACKWARDS COMPATIBILITY ON"
	cmdUpsample               = "UPSAMPLE ON"
)

// commandLink is the minimal transport surface the command channel needs;
// satisfied by *transport.TCPLink and by fakes in tests.
type commandLink interface {
	Write(s string) error
	Read(buf []byte) error
	Close() error
}

// CommandChannel wraps the single TCP command socket a Trigno base station
// exposes, shared (reference-counted) between the EMG and analog drivers
// that address the same station.
type CommandChannel struct {
	mu          sync.Mutex
	link        commandLink
	lastCommand string
	refCount    int
	logger      *zap.Logger
}

// NewCommandChannel dials host:port and returns a channel with one
// reference held.
func NewCommandChannel(host string, port int, logger *zap.Logger) (*CommandChannel, error) {
	link, err := transport.Dial(fmt.Sprintf("%s:%d", host, port), transport.DefaultConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("delsys: command channel dial: %w", err)
	}
	c := &CommandChannel{link: link, logger: logger, refCount: 1}
	if err := c.consumeBanner(); err != nil {
		_ = link.Close()
		return nil, err
	}
	return c, nil
}

// newCommandChannelFromLink is used by tests to inject a fake transport. Like
// NewCommandChannel, it consumes the welcome banner before returning.
func newCommandChannelFromLink(link commandLink, logger *zap.Logger) *CommandChannel {
	c := &CommandChannel{link: link, logger: logger, refCount: 1}
	_ = c.consumeBanner()
	return c
}

func (c *CommandChannel) consumeBanner() error {
	buf := make([]byte, 128)
	if err := c.link.Read(buf); err != nil {
		return fmt.Errorf("delsys: reading welcome banner: %w", err)
	}
	return nil
}

// Acquire adds a reference (the second driver to target the same station).
func (c *CommandChannel) Acquire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refCount++
}

// Release drops a reference; the last holder closes the socket.
func (c *CommandChannel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refCount--
	if c.refCount > 0 {
		return nil
	}
	return c.link.Close()
}

// Send issues command on the shared channel. Re-sending the same command as
// last time is a no-op at the wire level (idempotent START/STOP).
func (c *CommandChannel) Send(command string) (device.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastCommand == command {
		return device.OK, nil
	}
	c.lastCommand = command
	if err := c.link.Write(command + terminator); err != nil {
		return device.NOK, fmt.Errorf("delsys: command write: %w", err)
	}

	buf := make([]byte, 128)
	if err := c.link.Read(buf); err != nil {
		return device.NOK, fmt.Errorf("delsys: command response: %w", err)
	}
	if strings.HasPrefix(string(buf), "OK") {
		return device.OK, nil
	}
	return device.NOK, nil
}

// LastCommand reports the most recent command issued on this channel, used
// by the data channel to short-circuit reads once STOP has been sent.
func (c *CommandChannel) LastCommand() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommand
}

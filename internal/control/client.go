package control

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/pariterre/neurobiomech-software-sub000/internal/control/wire"
)

// LiveDataHandler is invoked on the client's background live-data reader
// goroutine for every payload the server pushes. Implementations must not
// block for long, since they run inline with the reader loop.
type LiveDataHandler func(payload []byte)

// Client mirrors the server's three-socket protocol: synchronous
// request/response commands plus a background live-data reader.
type Client struct {
	host            string
	commandPort     int
	responsePort    int
	liveDataPort    int
	liveDataHandler LiveDataHandler
	logger          *zap.Logger

	mu        sync.Mutex
	connected bool
	cmdConn   net.Conn
	respConn  net.Conn
	dataConn  net.Conn
	liveDone  chan struct{}
}

// NewClient constructs a client targeting host's three control ports.
// handler (may be nil) receives every live-data payload pushed by the
// server.
func NewClient(host string, commandPort, responsePort, liveDataPort int, handler LiveDataHandler, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		host:            host,
		commandPort:     commandPort,
		responsePort:    responsePort,
		liveDataPort:    liveDataPort,
		liveDataHandler: handler,
		logger:          logger,
	}
}

// Connect dials all three sockets in order and performs the handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	var err error
	if c.cmdConn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", c.host, c.commandPort)); err != nil {
		return fmt.Errorf("control: dial command socket: %w", err)
	}
	if c.respConn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", c.host, c.responsePort)); err != nil {
		c.cmdConn.Close()
		return fmt.Errorf("control: dial response socket: %w", err)
	}
	if c.dataConn, err = net.Dial("tcp", fmt.Sprintf("%s:%d", c.host, c.liveDataPort)); err != nil {
		c.cmdConn.Close()
		c.respConn.Close()
		return fmt.Errorf("control: dial live-data socket: %w", err)
	}

	if err := wire.WriteHeader(c.cmdConn, wire.Header{Version: wire.ProtocolVersion, Code: wire.CmdHandshake}); err != nil {
		c.closeSocketsLocked()
		return fmt.Errorf("control: send handshake: %w", err)
	}
	ack, err := wire.ReadHeader(c.cmdConn)
	if err != nil {
		c.closeSocketsLocked()
		return fmt.Errorf("control: read handshake ack: %w", err)
	}
	if ack.Code != wire.RespOK {
		c.closeSocketsLocked()
		return ErrHandshakeRejected
	}

	c.connected = true
	c.liveDone = make(chan struct{})
	go c.readLiveData(c.dataConn, c.liveDone)
	c.logger.Info("control client connected")
	return nil
}

// Disconnect is idempotent: it closes every socket and waits for the
// live-data reader to exit.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.closeSocketsLocked()
	done := c.liveDone
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.logger.Info("control client disconnected")
	return nil
}

func (c *Client) closeSocketsLocked() {
	if c.cmdConn != nil {
		c.cmdConn.Close()
	}
	if c.respConn != nil {
		c.respConn.Close()
	}
	if c.dataConn != nil {
		c.dataConn.Close()
	}
}

func (c *Client) readLiveData(conn net.Conn, done chan struct{}) {
	defer close(done)
	for {
		payload, err := wire.ReadPayload(conn)
		if err != nil {
			return
		}
		if c.liveDataHandler != nil && payload != nil {
			c.liveDataHandler(payload)
		}
	}
}

// sendCommand sends one fixed-header command and returns whether the
// server's ack was OK.
func (c *Client) sendCommand(code uint32) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.cmdConn
	c.mu.Unlock()

	if err := wire.WriteHeader(conn, wire.Header{Version: wire.ProtocolVersion, Code: code}); err != nil {
		return fmt.Errorf("control: write command: %w", err)
	}
	ack, err := wire.ReadHeader(conn)
	if err != nil {
		return fmt.Errorf("control: read ack: %w", err)
	}
	if ack.Code != wire.RespOK {
		return fmt.Errorf("%w: %s", ErrCommandRejected, CommandName(code))
	}
	return nil
}

func (c *Client) ConnectDelsysAnalog() error { return c.sendCommand(wire.CmdConnectDelsysAnalog) }
func (c *Client) ConnectDelsysEMG() error    { return c.sendCommand(wire.CmdConnectDelsysEMG) }
func (c *Client) ConnectMagstim() error      { return c.sendCommand(wire.CmdConnectMagstim) }

func (c *Client) DisconnectDelsysAnalog() error {
	return c.sendCommand(wire.CmdDisconnectDelsysAnalog)
}
func (c *Client) DisconnectDelsysEMG() error { return c.sendCommand(wire.CmdDisconnectDelsysEMG) }
func (c *Client) DisconnectMagstim() error   { return c.sendCommand(wire.CmdDisconnectMagstim) }

func (c *Client) StartRecording() error { return c.sendCommand(wire.CmdStartRecording) }
func (c *Client) StopRecording() error  { return c.sendCommand(wire.CmdStopRecording) }

// GetLastTrialData sends GET_LAST_TRIAL_DATA, reads the length-prefixed
// payload off the response socket, then consumes the command ack.
func (c *Client) GetLastTrialData() (map[string]wire.TrialData, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	cmdConn, respConn := c.cmdConn, c.respConn
	c.mu.Unlock()

	if err := wire.WriteHeader(cmdConn, wire.Header{Version: wire.ProtocolVersion, Code: wire.CmdGetLastTrialData}); err != nil {
		return nil, fmt.Errorf("control: write command: %w", err)
	}

	payload, err := wire.ReadPayload(respConn)
	if err != nil {
		return nil, fmt.Errorf("control: read trial data payload: %w", err)
	}

	ack, err := wire.ReadHeader(cmdConn)
	if err != nil {
		return nil, fmt.Errorf("control: read ack: %w", err)
	}
	if ack.Code != wire.RespOK {
		return nil, fmt.Errorf("%w: %s", ErrCommandRejected, CommandName(wire.CmdGetLastTrialData))
	}

	var data map[string]wire.TrialData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("control: decode trial data: %w", err)
	}
	return data, nil
}

// Package control implements the three-TCP-socket protocol a remote client
// uses to drive the device registry: a command socket, a response socket
// for variable-length replies, and a live-data push socket.
package control

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pariterre/neurobiomech-software-sub000/internal/control/wire"
	"github.com/pariterre/neurobiomech-software-sub000/internal/registry"
)

const (
	DefaultCommandPort      = 5000
	DefaultResponsePort     = 5001
	DefaultLiveDataPort     = 5002
	DefaultTimeoutPeriod    = 5 * time.Second
	DefaultLiveDataInterval = 100 * time.Millisecond
)

// DeviceFactory constructs a newly-named device/collector pair on demand,
// for a CONNECT_* command. The returned values are usually the same
// underlying driver value, since drivers like delsys.Driver satisfy both
// registry.Device and registry.DataCollector.
type DeviceFactory func() (registry.Device, registry.DataCollector)

// streamer is implemented by drivers that must start/stop physical
// acquisition around connect/disconnect (Delsys); devices without it are
// left exactly as the factory returned them.
type streamer interface {
	StartDataStreaming() error
	StopDataStreaming() error
}

// ServerConfig configures a Server's ports, timing, and device factories.
type ServerConfig struct {
	CommandPort      int
	ResponsePort     int
	LiveDataPort     int
	TimeoutPeriod    time.Duration
	LiveDataInterval time.Duration

	// Factories maps a CONNECT_* wire command code to a constructor for the
	// device it should add to the registry.
	Factories map[uint32]DeviceFactory
	// DeviceNames maps both a CONNECT_* and its paired DISCONNECT_* command
	// code to the fixed registry name used for that device.
	DeviceNames map[uint32]string
}

func (c *ServerConfig) setDefaults() {
	if c.CommandPort == 0 {
		c.CommandPort = DefaultCommandPort
	}
	if c.ResponsePort == 0 {
		c.ResponsePort = DefaultResponsePort
	}
	if c.LiveDataPort == 0 {
		c.LiveDataPort = DefaultLiveDataPort
	}
	if c.TimeoutPeriod == 0 {
		c.TimeoutPeriod = DefaultTimeoutPeriod
	}
	if c.LiveDataInterval == 0 {
		c.LiveDataInterval = DefaultLiveDataInterval
	}
}

// Server is the accept-loop + command-dispatch + live-data-push side of the
// protocol. It serves one client at a time; after a client disconnects
// (cleanly or by handshake timeout) it returns to accepting a new one.
type Server struct {
	cfg      ServerConfig
	registry *registry.Registry
	logger   *zap.Logger

	cmdLn  net.Listener
	respLn net.Listener
	dataLn net.Listener

	mu       sync.Mutex
	stopped  bool
	stopCh   chan struct{}
	loopDone chan struct{}
}

// NewServer constructs a server bound to cfg's ports, driving reg as its
// device registry. Call Start to begin accepting.
func NewServer(cfg ServerConfig, reg *registry.Registry, logger *zap.Logger) *Server {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, registry: reg, logger: logger}
}

// Start opens the three listeners and spawns the accept loop in the
// background; it returns once listening has begun, not once a client has
// connected.
func (s *Server) Start() error {
	var err error
	if s.cmdLn, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.CommandPort)); err != nil {
		return fmt.Errorf("control: listen command port: %w", err)
	}
	if s.respLn, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.ResponsePort)); err != nil {
		return fmt.Errorf("control: listen response port: %w", err)
	}
	if s.dataLn, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.LiveDataPort)); err != nil {
		return fmt.Errorf("control: listen live-data port: %w", err)
	}

	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.acceptLoop()
	s.logger.Info("control server listening",
		zap.Int("command_port", listenerPort(s.cmdLn)),
		zap.Int("response_port", listenerPort(s.respLn)),
		zap.Int("live_data_port", listenerPort(s.dataLn)))
	return nil
}

// CommandPort, ResponsePort and LiveDataPort return the actual bound ports.
func (s *Server) CommandPort() int  { return listenerPort(s.cmdLn) }
func (s *Server) ResponsePort() int { return listenerPort(s.respLn) }
func (s *Server) LiveDataPort() int { return listenerPort(s.dataLn) }

func listenerPort(ln net.Listener) int {
	if ln == nil {
		return 0
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Stop is idempotent: it closes the listeners, ends any session in
// progress, disconnects every registered device, and waits for the accept
// loop to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	_ = s.cmdLn.Close()
	_ = s.respLn.Close()
	_ = s.dataLn.Close()
	<-s.loopDone

	if err := s.registry.DisconnectAll(); err != nil {
		s.logger.Warn("disconnect_all during stop reported errors", zap.Error(err))
	}
	s.logger.Info("control server stopped")
	return nil
}

func (s *Server) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Server) acceptLoop() {
	defer close(s.loopDone)
	for {
		if s.isStopping() {
			return
		}

		cmdConn, respConn, dataConn, err := s.acceptTriple()
		if err != nil {
			if s.isStopping() {
				return
			}
			s.logger.Warn("accept attempt failed", zap.Error(err))
			continue
		}

		sessionID := uuid.New().String()
		s.serveClient(sessionID, cmdConn, respConn, dataConn)
	}
}

// acceptTriple accepts one connection on each of the three listeners, all
// within a single TimeoutPeriod window. Any partial result is closed and an
// error returned if the deadline passes before all three arrive.
func (s *Server) acceptTriple() (cmdConn, respConn, dataConn net.Conn, err error) {
	deadline := time.Now().Add(s.cfg.TimeoutPeriod)

	cmdConn, err = acceptWithDeadline(s.cmdLn, deadline)
	if err != nil {
		return nil, nil, nil, err
	}
	respConn, err = acceptWithDeadline(s.respLn, deadline)
	if err != nil {
		cmdConn.Close()
		return nil, nil, nil, fmt.Errorf("%w: response socket: %v", ErrHandshakeTimeout, err)
	}
	dataConn, err = acceptWithDeadline(s.dataLn, deadline)
	if err != nil {
		cmdConn.Close()
		respConn.Close()
		return nil, nil, nil, fmt.Errorf("%w: live-data socket: %v", ErrHandshakeTimeout, err)
	}
	return cmdConn, respConn, dataConn, nil
}

func acceptWithDeadline(ln net.Listener, deadline time.Time) (net.Conn, error) {
	if tl, ok := ln.(*net.TCPListener); ok {
		if err := tl.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return ln.Accept()
}

func (s *Server) serveClient(sessionID string, cmdConn, respConn, dataConn net.Conn) {
	logger := s.logger.With(zap.String("session", sessionID))
	defer func() {
		cmdConn.Close()
		respConn.Close()
		dataConn.Close()
		if err := s.registry.DisconnectAll(); err != nil {
			logger.Warn("disconnect_all on client exit reported errors", zap.Error(err))
		}
		logger.Info("client disconnected")
	}()

	if tl, ok := cmdConn.(*net.TCPConn); ok {
		_ = tl.SetDeadline(time.Time{})
	}

	h, err := wire.ReadHeader(cmdConn)
	if err != nil || h.Code != wire.CmdHandshake || h.Version != wire.ProtocolVersion {
		if err != nil {
			logger.Warn("handshake read failed", zap.Error(err))
		} else {
			logger.Warn("handshake rejected",
				zap.Uint32("got_version", h.Version), zap.Uint32("want_version", wire.ProtocolVersion),
				zap.Uint32("got_code", h.Code))
		}
		_ = wire.WriteHeader(cmdConn, wire.Header{Version: wire.ProtocolVersion, Code: wire.RespNOK})
		return
	}
	if err := wire.WriteHeader(cmdConn, wire.Header{Version: wire.ProtocolVersion, Code: wire.RespOK}); err != nil {
		logger.Warn("handshake ack failed", zap.Error(err))
		return
	}
	logger.Info("client connected")

	liveDone := make(chan struct{})
	go func() {
		defer close(liveDone)
		s.runLiveData(dataConn, logger)
	}()

	s.runCommandLoop(cmdConn, respConn, logger)
	<-liveDone
}

func (s *Server) runCommandLoop(cmdConn, respConn net.Conn, logger *zap.Logger) {
	for {
		h, err := wire.ReadHeader(cmdConn)
		if err != nil {
			if err != io.EOF {
				logger.Warn("command read failed", zap.Error(err))
			}
			return
		}
		if h.Version != wire.ProtocolVersion {
			logger.Warn("command with mismatched version", zap.Uint32("version", h.Version))
			_ = wire.WriteHeader(cmdConn, wire.Header{Version: wire.ProtocolVersion, Code: wire.RespNOK})
			continue
		}

		ok := s.dispatch(h.Code, respConn, logger)
		ack := wire.RespNOK
		if ok {
			ack = wire.RespOK
		}
		if err := wire.WriteHeader(cmdConn, wire.Header{Version: wire.ProtocolVersion, Code: ack}); err != nil {
			logger.Warn("command ack write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(code uint32, respConn net.Conn, logger *zap.Logger) bool {
	name := CommandName(code)
	switch code {
	case wire.CmdConnectDelsysAnalog, wire.CmdConnectDelsysEMG, wire.CmdConnectMagstim:
		return s.handleConnect(code, logger)
	case wire.CmdDisconnectDelsysAnalog, wire.CmdDisconnectDelsysEMG, wire.CmdDisconnectMagstim:
		return s.handleDisconnect(code, logger)
	case wire.CmdStartRecording:
		if err := s.registry.StartRecordingAll(); err != nil {
			logger.Warn("start_recording_all failed", zap.Error(err))
			return false
		}
		return true
	case wire.CmdStopRecording:
		if err := s.registry.StopRecordingAll(); err != nil {
			logger.Warn("stop_recording_all failed", zap.Error(err))
			return false
		}
		return true
	case wire.CmdGetLastTrialData:
		return s.handleGetLastTrialData(respConn, logger)
	default:
		logger.Warn("unrecognized command", zap.Uint32("code", code), zap.String("name", name))
		return false
	}
}

func (s *Server) handleConnect(code uint32, logger *zap.Logger) bool {
	factory, ok := s.cfg.Factories[code]
	name := s.cfg.DeviceNames[code]
	if !ok || name == "" {
		logger.Warn("no factory registered for command", zap.Uint32("code", code))
		return false
	}

	dev, collector := factory()
	if err := s.registry.Add(dev, collector); err != nil {
		logger.Warn("add device failed", zap.String("device", name), zap.Error(err))
		return false
	}
	if err := dev.Connect(); err != nil {
		logger.Warn("connect device failed", zap.String("device", name), zap.Error(err))
		_ = s.registry.Remove(name)
		return false
	}
	if sd, ok := dev.(streamer); ok {
		if err := sd.StartDataStreaming(); err != nil {
			logger.Warn("start data streaming failed", zap.String("device", name), zap.Error(err))
			_ = dev.Disconnect()
			_ = s.registry.Remove(name)
			return false
		}
	}
	logger.Info("device connected", zap.String("device", name))
	return true
}

func (s *Server) handleDisconnect(code uint32, logger *zap.Logger) bool {
	name := s.cfg.DeviceNames[code]
	dev, err := s.registry.Get(name)
	if err != nil {
		logger.Warn("disconnect unknown device", zap.String("device", name), zap.Error(err))
		return false
	}
	if sd, ok := dev.(streamer); ok {
		if err := sd.StopDataStreaming(); err != nil {
			logger.Warn("stop data streaming failed", zap.String("device", name), zap.Error(err))
		}
	}
	if err := dev.Disconnect(); err != nil {
		logger.Warn("disconnect device failed", zap.String("device", name), zap.Error(err))
		return false
	}
	_ = s.registry.Remove(name)
	logger.Info("device disconnected", zap.String("device", name))
	return true
}

func (s *Server) handleGetLastTrialData(respConn net.Conn, logger *zap.Logger) bool {
	snapshot := s.registry.SerializeLastTrial()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		logger.Warn("serialize last trial failed", zap.Error(err))
		return false
	}
	if err := wire.WritePayload(respConn, wire.ProtocolVersion, payload); err != nil {
		logger.Warn("write last trial payload failed", zap.Error(err))
		return false
	}
	return true
}

// runLiveData ticks at LiveDataInterval, pushing every registered
// collector's new samples since the previous tick. A send that would block
// is skipped rather than buffered, so a slow/stalled client never backs up
// the acquisition pipeline.
func (s *Server) runLiveData(dataConn net.Conn, logger *zap.Logger) {
	lastLogical := make(map[string]int64)
	ticker := time.NewTicker(s.cfg.LiveDataInterval)
	defer ticker.Stop()

	// The client never writes on the live-data socket, so the read returning
	// means the client closed it (or the session is being torn down).
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		_, _ = io.Copy(io.Discard, dataConn)
	}()

	for {
		select {
		case <-peerGone:
			return
		case <-ticker.C:
		}
		if s.isStopping() {
			return
		}

		names := s.registry.Names()
		snapshot := make(map[string]json.RawMessage, len(names))

		var mu sync.Mutex
		g := new(errgroup.Group)
		for _, name := range names {
			name := name
			g.Go(func() error {
				collector, err := s.registry.Collector(name)
				if err != nil {
					return nil
				}
				ts := collector.TrialData()
				mu.Lock()
				last, seen := lastLogical[name]
				mu.Unlock()
				if !seen || ts.Size() <= last {
					// Nothing pushed yet, or the series was reset for a new
					// trial: start again from logical index 0.
					last = -1
				}
				samples, newLast := ts.Since(last)
				if len(samples) == 0 {
					return nil
				}
				mu.Lock()
				lastLogical[name] = newLast
				mu.Unlock()

				raw, err := json.Marshal(samples)
				if err != nil {
					return nil
				}
				mu.Lock()
				snapshot[name] = raw
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if len(snapshot) == 0 {
			continue
		}

		payload, err := json.Marshal(snapshot)
		if err != nil {
			continue
		}

		if tc, ok := dataConn.(*net.TCPConn); ok {
			_ = tc.SetWriteDeadline(time.Now().Add(5 * time.Millisecond))
		}
		if err := wire.WritePayload(dataConn, wire.ProtocolVersion, payload); err != nil {
			logger.Debug("live data push skipped", zap.Error(err))
		}
		if tc, ok := dataConn.(*net.TCPConn); ok {
			_ = tc.SetWriteDeadline(time.Time{})
		}
	}
}

// CommandName returns a wire command code's protocol name, for logging.
func CommandName(code uint32) string {
	if n, ok := wire.CommandNames[code]; ok {
		return n
	}
	return "UNKNOWN"
}

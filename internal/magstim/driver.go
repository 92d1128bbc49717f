// Package magstim implements the serial-port driver for a Magstim Rapid
// transcranial magnetic stimulator: arm/disarm state, dynamic keep-alive
// interval, checksum framing, and RTS-based fast communication.
package magstim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/pariterre/neurobiomech-software-sub000/internal/device"
)

// VID/PID for the USB-serial adapter a Magstim Rapid enumerates as.
const (
	USBVendorID  = "067B"
	USBProductID = "2303"
)

// Command tokens dispatched through device.Hooks.ParseAsyncSendCommand.
const (
	CmdPoke                 device.Command = "POKE"
	CmdPrint                device.Command = "PRINT"
	CmdGetTemperature       device.Command = "GET_TEMPERATURE"
	CmdArm                  device.Command = "ARM"
	CmdDisarm               device.Command = "DISARM"
	CmdSetFastCommunication device.Command = "SET_FAST_COMMUNICATION"
)

// ErrAlreadyArmed and ErrNotArmed are Magstim's arm-state idempotency
// violations.
var (
	ErrAlreadyArmed = errors.New("magstim: already armed")
	ErrNotArmed     = errors.New("magstim: not armed")
)

const (
	defaultArmedPokeInterval    = 500 * time.Millisecond
	defaultDisarmedPokeInterval = 5 * time.Second
)

// port is the minimal serial transport surface the driver needs; satisfied
// by go.bug.st/serial.Port and by a fake in tests.
type port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetRTS(enable bool) error
	Close() error
}

// Driver is one Magstim Rapid stimulator on a serial port.
type Driver struct {
	*device.Async

	portName string
	opener   func(string) (port, error)

	mu                   sync.Mutex
	conn                 port
	isArmed              bool
	armedPokeInterval    time.Duration
	disarmedPokeInterval time.Duration

	logger *zap.Logger
}

// New constructs a disarmed driver bound to portName, opened lazily on
// Connect via go.bug.st/serial.
func New(name, portName string, logger *zap.Logger) *Driver {
	d := &Driver{
		portName:             portName,
		armedPokeInterval:    defaultArmedPokeInterval,
		disarmedPokeInterval: defaultDisarmedPokeInterval,
		logger:               logger,
		opener:               openSerialPort,
	}
	d.Async = device.NewAsync(name, defaultDisarmedPokeInterval, d, logger)
	return d
}

// newWithOpener lets tests substitute a fake port opener.
func newWithOpener(name, portName string, opener func(string) (port, error), logger *zap.Logger) *Driver {
	d := New(name, portName, logger)
	d.opener = opener
	return d
}

func openSerialPort(name string) (port, error) {
	mode := &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Driver) IsArmed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isArmed
}

// --- device.Hooks ---

func (d *Driver) HandleAsyncConnect() error {
	conn, err := d.opener(d.portName)
	if err != nil {
		return fmt.Errorf("magstim: open %s: %w", d.portName, err)
	}
	d.mu.Lock()
	d.conn = conn
	d.isArmed = false
	d.mu.Unlock()
	return nil
}

func (d *Driver) HandleAsyncDisconnect() error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// ParseAsyncSendCommand dispatches one Magstim command on the worker
// goroutine; only ARM and DISARM change arm state.
func (d *Driver) ParseAsyncSendCommand(cmd device.Command, payload any) (device.Response, error) {
	switch cmd {
	case CmdPrint:
		text, _ := payload.(string)
		if err := d.writeFramed(text); err != nil {
			return device.NOK, err
		}
		return device.OK, nil

	case CmdPoke:
		if err := d.writeFramed("POKE"); err != nil {
			return device.NOK, err
		}
		return device.OK, nil

	case CmdGetTemperature:
		if err := d.writeFramed("F@"); err != nil {
			return device.NOK, err
		}
		resp := make([]byte, 9)
		if err := d.readFull(resp); err != nil {
			return device.NOK, err
		}
		return device.OK, nil

	case CmdSetFastCommunication:
		fast, _ := payload.(bool)
		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()
		if conn == nil {
			return device.NOK, device.ErrNotConnected
		}
		if err := conn.SetRTS(fast); err != nil {
			return device.NOK, fmt.Errorf("magstim: set RTS: %w", err)
		}
		return device.OK, nil

	case CmdArm:
		d.mu.Lock()
		if d.isArmed {
			d.mu.Unlock()
			return device.NOK, ErrAlreadyArmed
		}
		d.isArmed = true
		interval := d.armedPokeInterval
		d.mu.Unlock()
		d.SetKeepAliveInterval(interval)
		return device.OK, nil

	case CmdDisarm:
		d.mu.Lock()
		if !d.isArmed {
			d.mu.Unlock()
			return device.NOK, ErrNotArmed
		}
		d.isArmed = false
		interval := d.disarmedPokeInterval
		d.mu.Unlock()
		d.SetKeepAliveInterval(interval)
		return device.OK, nil

	default:
		return device.CommandNotFound, fmt.Errorf("%w: %s", device.ErrUnknownCommand, cmd)
	}
}

// PingWorker is the keep-alive tick: send POKE, ignore everything but a
// transport failure.
func (d *Driver) PingWorker() error {
	return d.writeFramed("POKE")
}

func (d *Driver) writeFramed(s string) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return device.ErrNotConnected
	}
	frame := s + computeCRC(s)
	if _, err := conn.Write([]byte(frame)); err != nil {
		return fmt.Errorf("%w: %v", device.ErrTransportClosed, err)
	}
	return nil
}

func (d *Driver) readFull(buf []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return device.ErrNotConnected
	}
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		if err != nil {
			return fmt.Errorf("%w: %v", device.ErrTransportClosed, err)
		}
		read += n
	}
	return nil
}

// computeCRC is the Magstim checksum: one's complement of the sum of the
// command's ASCII bytes, masked to 8 bits.
func computeCRC(s string) string {
	sum := 0
	for _, c := range s {
		sum += int(c)
	}
	return string([]byte{byte(^sum & 0xff)})
}

package delsys

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pariterre/neurobiomech-software-sub000/internal/device"
	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

// Variant distinguishes the two Trigno streams that share a base station.
type Variant string

const (
	EMG    Variant = "EMG"
	Analog Variant = "Analog"
)

// Default wire parameters per variant. SampleCount and ChannelCount are
// constructor parameters rather than hard-coded constants - only the
// defaults below come from the base station's documented behavior at the
// time of writing; a differently configured station is free to override
// them.
const (
	DefaultCommandPort = 50040

	DefaultEMGDataPort      = 50043
	DefaultEMGChannelCount  = 16
	DefaultEMGSampleCount   = 27
	DefaultEMGFrameRateHz   = 2000

	DefaultAnalogDataPort     = 50044
	DefaultAnalogChannelCount = 48
	DefaultAnalogSampleCount  = 1
	DefaultAnalogFrameRateHz  = 148
)

// dataCheckPollInterval is effectively "poll as fast as possible": each
// data_check tick blocks on the socket read, so cadence is paced by the
// device's own frame rate, not by this timer.
const dataCheckPollInterval = time.Microsecond

// Driver is one Delsys Trigno stream (EMG or analog). Two drivers can share
// a CommandChannel when they address the same base station.
type Driver struct {
	*device.Async
	collector *device.Collector

	variant      Variant
	host         string
	commandPort  int
	dataPort     int
	channelCount int
	sampleCount  int
	logger       *zap.Logger

	sharedChannel *CommandChannel // non-nil once the owner has connected
	otherRef      *Driver         // owner to resolve sharedChannel from lazily
	cmdChannel    *CommandChannel
	dataChan      *dataChannel
}

// New constructs a standalone Delsys driver that dials its own command
// channel to host.
func New(name string, variant Variant, host string, commandPort, dataPort, channelCount, sampleCount int, logger *zap.Logger) *Driver {
	d := &Driver{
		variant:      variant,
		host:         host,
		commandPort:  commandPort,
		dataPort:     dataPort,
		channelCount: channelCount,
		sampleCount:  sampleCount,
		logger:       logger,
	}
	d.Async = device.NewAsync(name, 100*time.Millisecond, d, logger)
	d.collector = device.NewCollector(name, channelCount, 0, dataCheckPollInterval, d, logger)
	return d
}

// NewSharingCommandChannel constructs a Delsys driver that reuses other's
// command channel instead of dialing its own - the shared-ownership
// behavior required when EMG and analog address the same base station.
func NewSharingCommandChannel(name string, variant Variant, other *Driver, dataPort, channelCount, sampleCount int, logger *zap.Logger) *Driver {
	d := &Driver{
		variant:      variant,
		host:         other.host,
		commandPort:  other.commandPort,
		dataPort:     dataPort,
		channelCount: channelCount,
		sampleCount:  sampleCount,
		logger:       logger,
	}
	d.Async = device.NewAsync(name, 100*time.Millisecond, d, logger)
	d.collector = device.NewCollector(name, channelCount, 0, dataCheckPollInterval, d, logger)
	d.sharedChannel = other.cmdChannel
	if d.sharedChannel == nil {
		// other hasn't connected yet; resolved lazily at HandleAsyncConnect
		// time via otherRef.
		d.otherRef = other
	}
	return d
}

// NewEMG builds an EMG driver with the documented defaults.
func NewEMG(name, host string, logger *zap.Logger) *Driver {
	return New(name, EMG, host, DefaultCommandPort, DefaultEMGDataPort, DefaultEMGChannelCount, DefaultEMGSampleCount, logger)
}

// NewAnalog builds an analog driver with the documented defaults.
func NewAnalog(name, host string, logger *zap.Logger) *Driver {
	return New(name, Analog, host, DefaultCommandPort, DefaultAnalogDataPort, DefaultAnalogChannelCount, DefaultAnalogSampleCount, logger)
}

// NewAnalogSharingEMG builds an analog driver sharing emg's command channel.
func NewAnalogSharingEMG(name string, emg *Driver, logger *zap.Logger) *Driver {
	return NewSharingCommandChannel(name, Analog, emg, DefaultAnalogDataPort, DefaultAnalogChannelCount, DefaultAnalogSampleCount, logger)
}

func (d *Driver) Collector() *device.Collector { return d.collector }
func (d *Driver) Variant() Variant             { return d.variant }
func (d *Driver) ChannelCount() int            { return d.channelCount }
func (d *Driver) SampleCount() int             { return d.sampleCount }

// Data-collector facet, delegated to the embedded generic Collector so a
// Driver satisfies the registry's data-collector capability directly.
func (d *Driver) StartDataStreaming() error          { return d.collector.StartDataStreaming() }
func (d *Driver) StopDataStreaming() error           { return d.collector.StopDataStreaming() }
func (d *Driver) StartRecording() error              { return d.collector.StartRecording() }
func (d *Driver) StopRecording() error                { return d.collector.StopRecording() }
func (d *Driver) TrialData() *timeseries.TimeSeries   { return d.collector.TrialData() }
func (d *Driver) IsStreaming() bool                   { return d.collector.IsStreaming() }
func (d *Driver) IsRecording() bool                   { return d.collector.IsRecording() }

// --- device.Hooks ---

func (d *Driver) HandleAsyncConnect() error {
	if d.cmdChannel == nil {
		if d.sharedChannel != nil {
			d.sharedChannel.Acquire()
			d.cmdChannel = d.sharedChannel
		} else if d.otherRef != nil {
			if d.otherRef.cmdChannel == nil {
				return fmt.Errorf("delsys: shared command channel owner %q is not connected", d.otherRef.Name())
			}
			d.otherRef.cmdChannel.Acquire()
			d.cmdChannel = d.otherRef.cmdChannel
		} else {
			ch, err := NewCommandChannel(d.host, d.commandPort, d.logger)
			if err != nil {
				return err
			}
			d.cmdChannel = ch
		}
	}

	dc, err := newDataChannel(d.host, d.dataPort, d.channelCount, d.sampleCount)
	if err != nil {
		_ = d.cmdChannel.Release()
		d.cmdChannel = nil
		return err
	}
	d.dataChan = dc
	return nil
}

func (d *Driver) HandleAsyncDisconnect() error {
	if d.collector.IsStreaming() {
		_ = d.collector.StopDataStreaming()
	}
	if d.dataChan != nil {
		_ = d.dataChan.close()
		d.dataChan = nil
	}
	if d.cmdChannel != nil {
		_ = d.cmdChannel.Release()
		d.cmdChannel = nil
	}
	return nil
}

func (d *Driver) ParseAsyncSendCommand(cmd device.Command, payload any) (device.Response, error) {
	return device.NOK, fmt.Errorf("%w: delsys devices accept no direct async commands", device.ErrUnknownCommand)
}

// --- device.CollectorHooks / StreamHooks / SlowTickIgnorer ---

func (d *Driver) HandleStartDataStreaming() error {
	resp, err := d.cmdChannel.Send(cmdStart)
	if err != nil {
		return err
	}
	if resp != device.OK {
		return fmt.Errorf("delsys: START rejected")
	}
	// First read after START is a readiness barrier: block until it arrives
	// and discard it, so the first counted tick is genuinely post-start.
	if _, err := d.dataChan.readFrame(); err != nil {
		return err
	}
	return nil
}

func (d *Driver) HandleStopDataStreaming() error {
	resp, err := d.cmdChannel.Send(cmdStop)
	if err != nil {
		return err
	}
	if resp != device.OK {
		return fmt.Errorf("delsys: STOP rejected")
	}
	return nil
}

func (d *Driver) DataCheck() ([][]float64, error) {
	if d.cmdChannel != nil && d.cmdChannel.LastCommand() == cmdStop {
		// STOP was sent on the (possibly shared) command channel: no frame
		// will arrive, so report an empty tick instead of blocking on a read.
		return nil, nil
	}
	frame, err := d.dataChan.readFrame()
	if err != nil {
		return nil, err
	}
	if allZero(frame[0]) {
		// No data sent at all yet; skip without advancing trial time.
		return nil, nil
	}
	return frame, nil
}

func (d *Driver) IgnoreTooSlowWarning() bool { return true }

// SetBackwardCompatibility and SetUpsample send the two remaining recognized
// command-channel tokens; both are only meaningful while connected.
func (d *Driver) SetBackwardCompatibility() (device.Response, error) {
	if d.cmdChannel == nil {
		return device.NOK, device.ErrNotConnected
	}
	return d.cmdChannel.Send(cmdBackwardCompatibility)
}

func (d *Driver) SetUpsample() (device.Response, error) {
	if d.cmdChannel == nil {
		return device.NOK, device.ErrNotConnected
	}
	return d.cmdChannel.Send(cmdUpsample)
}

func allZero(row []float64) bool {
	for _, v := range row {
		if v != 0 {
			return false
		}
	}
	return true
}

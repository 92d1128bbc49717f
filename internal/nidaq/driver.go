// Package nidaq is a placeholder NI-DAQ driver: it always connects
// successfully and produces zero-filled samples at a configurable rate, a
// stand-in for a future driver talking to real acquisition hardware.
package nidaq

import (
	"time"

	"go.uber.org/zap"

	"github.com/pariterre/neurobiomech-software-sub000/internal/device"
	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

// Driver is the generic async device/collector pair wired to a hook set
// that never fails to connect and always reports zero-filled samples.
type Driver struct {
	*device.Async
	collector *device.Collector

	channelCount int
}

// New constructs a stub NI-DAQ device with channelCount channels, sampled
// every sampleInterval.
func New(name string, channelCount int, sampleInterval time.Duration, logger *zap.Logger) *Driver {
	d := &Driver{channelCount: channelCount}
	d.Async = device.NewAsync(name, time.Second, d, logger)
	d.collector = device.NewCollector(name, channelCount, 0, sampleInterval, d, logger)
	return d
}

func (d *Driver) Collector() *device.Collector { return d.collector }
func (d *Driver) ChannelCount() int            { return d.channelCount }

func (d *Driver) StartDataStreaming() error           { return d.collector.StartDataStreaming() }
func (d *Driver) StopDataStreaming() error            { return d.collector.StopDataStreaming() }
func (d *Driver) StartRecording() error               { return d.collector.StartRecording() }
func (d *Driver) StopRecording() error                { return d.collector.StopRecording() }
func (d *Driver) TrialData() *timeseries.TimeSeries   { return d.collector.TrialData() }
func (d *Driver) IsStreaming() bool                   { return d.collector.IsStreaming() }
func (d *Driver) IsRecording() bool                   { return d.collector.IsRecording() }

// --- device.Hooks: handleConnect always succeeds immediately ---

func (d *Driver) HandleAsyncConnect() error    { return nil }
func (d *Driver) HandleAsyncDisconnect() error { return nil }

func (d *Driver) ParseAsyncSendCommand(cmd device.Command, payload any) (device.Response, error) {
	return device.CommandNotFound, device.ErrUnknownCommand
}

// --- device.CollectorHooks: zero-filled samples ---

func (d *Driver) DataCheck() ([][]float64, error) {
	return [][]float64{make([]float64, d.channelCount)}, nil
}

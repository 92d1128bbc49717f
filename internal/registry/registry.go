// Package registry implements a named collection of devices and their
// optional data collectors, with atomic (best-effort, rollback-on-failure)
// bulk lifecycle operations across the whole set.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pariterre/neurobiomech-software-sub000/internal/control/wire"
	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

// Device is the subset of a driver's surface the registry needs to manage
// connection lifecycle, satisfied by delsys.Driver, magstim.Driver and
// nidaq.Driver via their embedded *device.Async.
type Device interface {
	Name() string
	Connect() error
	Disconnect() error
	IsConnected() bool
}

// DataCollector is the subset of a driver's surface needed to drive
// recording lifecycle and fetch trial data, satisfied by the same drivers
// via their delegated *device.Collector methods.
type DataCollector interface {
	StartRecording() error
	StopRecording() error
	TrialData() *timeseries.TimeSeries
}

// ErrDuplicateDevice and ErrUnknownDevice are Add/Get's failure modes.
var (
	ErrDuplicateDevice = errors.New("registry: duplicate device")
	ErrUnknownDevice   = errors.New("registry: unknown device")
)

// Registry is a named collection of devices, each optionally paired with a
// data collector (a device need not stream/record, e.g. future non-
// acquisition hardware).
type Registry struct {
	mu         sync.RWMutex
	order      []string
	devices    map[string]Device
	collectors map[string]DataCollector
	logger     *zap.Logger
}

// New constructs an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		devices:    make(map[string]Device),
		collectors: make(map[string]DataCollector),
		logger:     logger,
	}
}

// Add registers a device under its own Name(), optionally paired with a
// data collector (pass nil if the device doesn't collect). Fails with
// ErrDuplicateDevice if the name is already registered.
func (r *Registry) Add(d Device, collector DataCollector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := d.Name()
	if _, exists := r.devices[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, name)
	}
	r.devices[name] = d
	if collector != nil {
		r.collectors[name] = collector
	}
	r.order = append(r.order, name)
	return nil
}

// Remove unregisters a device by name. Fails with ErrUnknownDevice if it
// isn't registered.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	delete(r.devices, name)
	delete(r.collectors, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the device registered under name, or ErrUnknownDevice.
func (r *Registry) Get(name string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return d, nil
}

// Collector returns the data collector registered under name, or
// ErrUnknownDevice.
func (r *Registry) Collector(name string) (DataCollector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return c, nil
}

// Names returns every registered device name, in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) snapshotDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.devices[name])
	}
	return out
}

func (r *Registry) snapshotCollectors() []DataCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DataCollector, 0, len(r.order))
	for _, name := range r.order {
		if c, ok := r.collectors[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ConnectAll connects every registered device concurrently. If any connect
// fails, every device that did succeed is disconnected again (best-effort,
// in reverse order of success) before the error is returned, so a failed
// ConnectAll always leaves no device connected.
func (r *Registry) ConnectAll() error {
	devices := r.snapshotDevices()
	return bulk(devices,
		func(d Device) error { return d.Connect() },
		func(d Device) error { return d.Disconnect() },
		r.logger)
}

// DisconnectAll disconnects every registered device concurrently, with the
// same best-effort rollback-on-failure semantics as ConnectAll.
func (r *Registry) DisconnectAll() error {
	devices := r.snapshotDevices()
	return bulk(devices,
		func(d Device) error { return d.Disconnect() },
		func(d Device) error { return d.Connect() },
		r.logger)
}

// StartRecordingAll starts recording on every registered collector
// concurrently, rolling back (stopping) any that already started if one
// fails.
func (r *Registry) StartRecordingAll() error {
	collectors := r.snapshotCollectors()
	return bulk(collectors,
		func(c DataCollector) error { return c.StartRecording() },
		func(c DataCollector) error { return c.StopRecording() },
		r.logger)
}

// StopRecordingAll stops recording on every registered collector
// concurrently, with the same rollback semantics.
func (r *Registry) StopRecordingAll() error {
	collectors := r.snapshotCollectors()
	return bulk(collectors,
		func(c DataCollector) error { return c.StopRecording() },
		func(c DataCollector) error { return c.StartRecording() },
		r.logger)
}

// SerializeLastTrial returns every collector's current trial_data in the
// wire's JSON-ready shape, keyed by device name.
func (r *Registry) SerializeLastTrial() map[string]wire.TrialData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]wire.TrialData, len(r.collectors))
	for name, c := range r.collectors {
		out[name] = wire.EncodeTrialData(c.TrialData())
	}
	return out
}

// bulk runs action concurrently over every item; if any invocation fails,
// every item whose action already succeeded has rollback applied (in
// reverse order of completion) before the first error is returned.
func bulk[T any](items []T, action, rollback func(T) error, logger *zap.Logger) error {
	var mu sync.Mutex
	var succeeded []T

	g := new(errgroup.Group)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := action(item); err != nil {
				return err
			}
			mu.Lock()
			succeeded = append(succeeded, item)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for i := len(succeeded) - 1; i >= 0; i-- {
			if rbErr := rollback(succeeded[i]); rbErr != nil {
				logger.Warn("bulk rollback step failed", zap.Error(rbErr))
			}
		}
		return err
	}
	return nil
}

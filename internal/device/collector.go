package device

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

// CollectorHooks is the driver callback the collector polls on every tick.
// It returns zero or more newly available samples (one []float64 per
// sample, each of length ChannelCount); the collector only appends them to
// trial_data if recording is active.
type CollectorHooks interface {
	DataCheck() ([][]float64, error)
}

// StreamHooks is implemented by drivers that must do something when
// streaming starts/stops (Delsys sends START/STOP on the command channel).
// Drivers with nothing to do simply don't implement it.
type StreamHooks interface {
	HandleStartDataStreaming() error
	HandleStopDataStreaming() error
}

// SlowTickIgnorer is implemented by drivers that want to suppress the
// "data_check took too long" warning.
type SlowTickIgnorer interface {
	IgnoreTooSlowWarning() bool
}

// Collector is the generic async data collector: a second worker goroutine
// ticking at DataCheckInterval, calling the driver's DataCheck hook, and
// conditionally appending into a rolling TimeSeries.
type Collector struct {
	name              string
	channelCount      int
	dataCheckInterval time.Duration
	hooks             CollectorHooks
	logger            *zap.Logger

	mu          sync.Mutex
	isStreaming bool
	isRecording bool
	trialData   *timeseries.TimeSeries
	lastWarnAt  time.Time

	quit chan struct{}
	done chan struct{}
}

// NewCollector constructs a stopped collector with the given rolling
// capacity for trial_data (<=0 for unbounded).
func NewCollector(name string, channelCount, capacity int, dataCheckInterval time.Duration, hooks CollectorHooks, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		name:              name,
		channelCount:      channelCount,
		dataCheckInterval: dataCheckInterval,
		hooks:             hooks,
		logger:            logger,
		trialData:         timeseries.New(channelCount, capacity),
	}
}

func (c *Collector) ChannelCount() int { return c.channelCount }

func (c *Collector) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStreaming
}

func (c *Collector) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRecording
}

// TrialData returns the live TimeSeries backing this collector. Callers
// must not mutate it directly; only the collector's worker appends to it.
func (c *Collector) TrialData() *timeseries.TimeSeries {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trialData
}

// StartDataStreaming begins physical acquisition: it spawns the polling
// worker and, if the driver implements StreamHooks, runs its start hook
// first.
func (c *Collector) StartDataStreaming() error {
	c.mu.Lock()
	if c.isStreaming {
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}
	c.mu.Unlock()

	if sh, ok := c.hooks.(StreamHooks); ok {
		if err := sh.HandleStartDataStreaming(); err != nil {
			return fmt.Errorf("start data streaming: %w", err)
		}
	}

	c.mu.Lock()
	c.isStreaming = true
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	quit, done := c.quit, c.done
	c.mu.Unlock()

	go c.run(quit, done)
	return nil
}

// StopDataStreaming stops physical acquisition. Recording must already be
// (or is forcibly) stopped, since streaming must be true while recording.
func (c *Collector) StopDataStreaming() error {
	c.mu.Lock()
	if !c.isStreaming {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.isStreaming = false
	c.isRecording = false
	quit, done := c.quit, c.done
	c.mu.Unlock()

	if quit != nil {
		close(quit)
	}
	if done != nil {
		<-done
	}

	if sh, ok := c.hooks.(StreamHooks); ok {
		if err := sh.HandleStopDataStreaming(); err != nil {
			return fmt.Errorf("stop data streaming: %w", err)
		}
	}
	return nil
}

// StartRecording resets trial_data's starting_time/stopwatch (a fresh
// trial) and begins appending ticks to it. Requires streaming to already be
// active.
func (c *Collector) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isStreaming {
		return fmt.Errorf("%w: streaming not active", ErrNotConnected)
	}
	if c.isRecording {
		return ErrAlreadyRecording
	}
	c.trialData.Reset()
	c.isRecording = true
	return nil
}

// StopRecording leaves trial_data intact until the next StartRecording.
func (c *Collector) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isRecording = false
	return nil
}

func (c *Collector) run(quit, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(c.dataCheckInterval)
	defer timer.Stop()

	for {
		select {
		case <-quit:
			return
		case <-timer.C:
			start := time.Now()
			c.tick()
			elapsed := time.Since(start)

			next := c.dataCheckInterval - elapsed
			if next < 0 {
				// Slow-tick policy: no drift accumulation, fire again right away.
				next = 0
				if !c.ignoreTooSlowWarning() {
					c.maybeWarnSlowTick(elapsed)
				}
			}
			timer.Reset(next)
		}
	}
}

func (c *Collector) tick() {
	rows, err := c.hooks.DataCheck()
	if err != nil {
		c.logger.Warn("data_check failed", zap.String("device", c.name), zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isRecording {
		return
	}
	for _, row := range rows {
		if _, err := c.trialData.Append(row); err != nil {
			c.logger.Warn("trial_data append failed", zap.String("device", c.name), zap.Error(err))
		}
	}
}

func (c *Collector) ignoreTooSlowWarning() bool {
	if si, ok := c.hooks.(SlowTickIgnorer); ok {
		return si.IgnoreTooSlowWarning()
	}
	return false
}

func (c *Collector) maybeWarnSlowTick(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastWarnAt) < time.Second {
		return
	}
	c.lastWarnAt = now
	c.logger.Warn("data_check exceeded data_check_interval",
		zap.String("device", c.name),
		zap.Duration("elapsed", elapsed),
		zap.Duration("interval", c.dataCheckInterval),
	)
}

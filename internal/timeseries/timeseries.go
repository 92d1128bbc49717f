package timeseries

import (
	"fmt"
	"time"
)

// Sample is one timestamped reading: a relative offset since the owning
// TimeSeries' trial start, plus one float64 per channel.
type Sample struct {
	TRel     time.Duration
	Channels []float64
}

// TimeSeries is a timestamped sample stream backed by a RollingBuffer. It has
// two add-modes: measured (TRel taken from a monotonic stopwatch at append
// time) and fixed-rate (TRel derived purely from the sample's logical index
// and a configured delta, immune to data-check jitter).
//
// Mutation is the owning collector's worker's job alone; TimeSeries itself
// does no internal locking. Callers that share a TimeSeries across
// goroutines (e.g. the live-data push worker reading tails) must synchronize
// externally - see internal/device.Collector.
type TimeSeries struct {
	channelCount int
	capacity     int
	deltaTime    time.Duration // zero => measured mode

	startingTime time.Time
	stopwatch    time.Time
	buffer       *RollingBuffer[Sample]
}

// Option configures a TimeSeries at construction.
type Option func(*TimeSeries)

// WithFixedRate puts the series in fixed-rate mode: the i-th sample (counted
// from the logical start) is assigned TRel = i*delta regardless of when
// Append is actually called.
func WithFixedRate(delta time.Duration) Option {
	return func(ts *TimeSeries) { ts.deltaTime = delta }
}

// New constructs an empty TimeSeries with the given channel count and
// rolling capacity (<=0 for unbounded).
func New(channelCount, capacity int, opts ...Option) *TimeSeries {
	ts := &TimeSeries{
		channelCount: channelCount,
		capacity:     capacity,
		buffer:       NewRollingBuffer[Sample](capacity),
	}
	for _, opt := range opts {
		opt(ts)
	}
	now := time.Now()
	ts.startingTime = now
	ts.stopwatch = now
	return ts
}

// ChannelCount returns the fixed number of channels per sample.
func (ts *TimeSeries) ChannelCount() int { return ts.channelCount }

// StartingTime returns the wall-clock instant the current trial began.
func (ts *TimeSeries) StartingTime() time.Time { return ts.startingTime }

// Append adds a new sample. In measured mode TRel is now-stopwatch; in
// fixed-rate mode TRel is the sample's logical index times delta, so it is
// immune to any jitter in when Append is actually called.
func (ts *TimeSeries) Append(channels []float64) (Sample, error) {
	if len(channels) != ts.channelCount {
		return Sample{}, fmt.Errorf("timeseries: append: expected %d channels, got %d", ts.channelCount, len(channels))
	}

	var trel time.Duration
	if ts.deltaTime > 0 {
		// i counts from the logical start, not the physical slot: peek the
		// index the push is about to receive.
		i := ts.buffer.Size()
		trel = time.Duration(i) * ts.deltaTime
	} else {
		trel = time.Since(ts.stopwatch)
		if back, ok := ts.buffer.Back(); ok && trel < back.TRel {
			// Clock jitter should never move the relative clock backward.
			trel = back.TRel
		}
	}

	sample := Sample{TRel: trel, Channels: append([]float64(nil), channels...)}
	ts.buffer.Push(sample)
	return sample, nil
}

// Size returns the number of samples ever appended since the last Reset.
func (ts *TimeSeries) Size() int64 { return ts.buffer.Size() }

// Back returns the most recently appended sample.
func (ts *TimeSeries) Back() (Sample, bool) { return ts.buffer.Back() }

// Front returns the oldest retained sample.
func (ts *TimeSeries) Front() (Sample, bool) { return ts.buffer.Front() }

// At returns the sample originally assigned the given logical index, if it
// is still retained.
func (ts *TimeSeries) At(logical int64) (Sample, bool) { return ts.buffer.At(logical) }

// Range iterates retained samples oldest-first.
func (ts *TimeSeries) Range(fn func(logical int64, s Sample) bool) { ts.buffer.Range(fn) }

// Since returns every retained sample with logical index > lastLogical,
// along with the logical index of the newest sample returned (or
// lastLogical unchanged if nothing new is available). This is the shape the
// live-data push loop and the last-trial-data fetch need: every sample
// since the last push/start, with no loss and no duplication.
func (ts *TimeSeries) Since(lastLogical int64) (samples []Sample, newLastLogical int64) {
	newLastLogical = lastLogical
	ts.buffer.Range(func(logical int64, s Sample) bool {
		if logical <= lastLogical {
			return true
		}
		samples = append(samples, s)
		newLastLogical = logical
		return true
	})
	return samples, newLastLogical
}

// Reset clears all samples and refreshes starting_time/stopwatch. Append
// never shifts starting_time retroactively; the only way to do so after
// samples have been appended is the explicit Rebase below.
func (ts *TimeSeries) Reset() {
	ts.buffer.Clear()
	now := time.Now()
	ts.startingTime = now
	ts.stopwatch = now
}

// Rebase shifts StartingTime without touching any already-recorded TRel
// value. This is an explicit, destructive escape hatch: it changes what
// wall-clock instant TRel=0 refers to, which invalidates any previously
// computed absolute timestamp (startingTime + TRel) for already-appended
// samples. Callers that need absolute timestamps to stay correct must
// Reset instead.
func (ts *TimeSeries) Rebase(newStart time.Time) {
	ts.startingTime = newStart
}

// Package analyzer implements the cyclic timed-events phase predictor: an
// online classifier that turns a live pressure-sensor TimeSeries into a
// normalized gait-cycle phase fraction, adapting its phase-duration model
// online via a learning-rate update.
package analyzer

import (
	"errors"
	"fmt"
	"time"

	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

// ErrTimeWentBackward is returned by Predict when the referenced device's
// latest sample is older than the last one analyzed. It is recoverable: the
// caller may retry on the next tick or skip this one.
var ErrTimeWentBackward = errors.New("analyzer: time went backward")

// ErrUnknownDevice is returned by Predict when the referenced device name
// is missing from the supplied data map.
var ErrUnknownDevice = errors.New("analyzer: referenced device not present in data")

// state is the analyzer's own FirstPass/Running state machine.
type state int

const (
	firstPass state = iota
	running
)

// EventCondition decides whether the current phase should end, given the
// phase index and the latest channel reading. Splitting this out (rather
// than hard-coding two comparisons) lets a future analyzer with a different
// phase count/predicate set reuse the same runner.
type EventCondition interface {
	ShouldIncrement(phaseIndex int, channelValue float64) bool
}

// HeelStrikeToeOff is the default two-phase gait predicate: phase 0 ends
// (heel strike detected) once the channel rises to
// at least heelStrikeThreshold; phase 1 ends (toe off detected) once it
// falls to at most toeOffThreshold. Any other phase index never advances on
// its own.
type HeelStrikeToeOff struct {
	HeelStrikeThreshold float64
	ToeOffThreshold     float64
}

func (h HeelStrikeToeOff) ShouldIncrement(phaseIndex int, channelValue float64) bool {
	switch phaseIndex {
	case 0:
		return channelValue >= h.HeelStrikeThreshold
	case 1:
		return channelValue <= h.ToeOffThreshold
	default:
		return false
	}
}

// DefaultPhaseDurations is the default cyclic phase-duration model.
func DefaultPhaseDurations() []time.Duration {
	return []time.Duration{400 * time.Millisecond, 600 * time.Millisecond}
}

// truncToMillis truncates d toward zero to the nearest whole millisecond,
// matching std::chrono::duration_cast<milliseconds>'s truncation semantics.
// The phase-duration model and the elapsed-phase clock are kept quantized to
// whole milliseconds at every accumulation step, the way the original
// analyzer's std::chrono::milliseconds-typed model does by construction.
func truncToMillis(d time.Duration) time.Duration {
	return (d / time.Millisecond) * time.Millisecond
}

// CyclicPhaseAnalyzer predicts a normalized gait-cycle phase fraction from a
// live channel and adapts its own phase-duration model as it observes
// transitions.
type CyclicPhaseAnalyzer struct {
	deviceName   string
	channelIndex int
	condition    EventCondition
	learningRate float64

	state              state
	model              []time.Duration
	nextModel          []time.Duration
	currentPhaseIndex  int
	currentPhaseElapse time.Duration
	lastAnalyzed       time.Time
}

// New constructs an analyzer reading channelIndex of deviceName's
// TimeSeries (looked up from the map passed to Predict each call, since the
// registry may reset/replace that series between trials).
func New(deviceName string, channelIndex int, condition EventCondition, learningRate float64, initialModel []time.Duration) *CyclicPhaseAnalyzer {
	if initialModel == nil {
		initialModel = DefaultPhaseDurations()
	}
	model := make([]time.Duration, len(initialModel))
	for i, d := range initialModel {
		model[i] = truncToMillis(d)
	}
	return &CyclicPhaseAnalyzer{
		deviceName:   deviceName,
		channelIndex: channelIndex,
		condition:    condition,
		learningRate: learningRate,
		state:        firstPass,
		model:        model,
		nextModel:    append([]time.Duration(nil), model...),
	}
}

// Model returns a copy of the current phase-duration model M.
func (a *CyclicPhaseAnalyzer) Model() []time.Duration {
	return append([]time.Duration(nil), a.model...)
}

func (a *CyclicPhaseAnalyzer) CurrentPhaseIndex() int { return a.currentPhaseIndex }

func (a *CyclicPhaseAnalyzer) totalDuration() time.Duration {
	var sum time.Duration
	for _, d := range a.model {
		sum += d
	}
	return sum
}

// Predict runs one step against the live data map (device name ->
// TimeSeries, as held by the device registry) and returns the normalized
// phase fraction in [0,1].
func (a *CyclicPhaseAnalyzer) Predict(data map[string]*timeseries.TimeSeries) (float64, error) {
	series, ok := data[a.deviceName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDevice, a.deviceName)
	}
	back, ok := series.Back()
	if !ok {
		return 0, fmt.Errorf("analyzer: %s has no samples yet", a.deviceName)
	}
	tNow := series.StartingTime().Add(back.TRel)

	if a.state == firstPass {
		a.state = running
		a.lastAnalyzed = tNow
		return 0.0, nil
	}

	if tNow.Before(a.lastAnalyzed) {
		return 0, ErrTimeWentBackward
	}

	a.currentPhaseElapse += truncToMillis(tNow.Sub(a.lastAnalyzed))
	a.lastAnalyzed = tNow

	i := a.currentPhaseIndex
	d := a.model[i]
	elapsedClamped := a.currentPhaseElapse
	if elapsedClamped > d {
		elapsedClamped = d
	}

	var priorSum time.Duration
	for j := 0; j < i; j++ {
		priorSum += a.model[j]
	}
	total := a.totalDuration()
	prediction := 0.0
	if total > 0 {
		prediction = float64(priorSum+elapsedClamped) / float64(total)
	}

	var channelValue float64
	if a.channelIndex < len(back.Channels) {
		channelValue = back.Channels[a.channelIndex]
	}
	if a.condition.ShouldIncrement(i, channelValue) {
		predictionErrorMs := float64((a.currentPhaseElapse - d) / time.Millisecond)
		correctionMs := int64(a.learningRate * predictionErrorMs)
		a.nextModel[i] += time.Duration(correctionMs) * time.Millisecond
		a.currentPhaseElapse = 0
		a.currentPhaseIndex = (i + 1) % len(a.model)
		if a.currentPhaseIndex == 0 {
			a.model = a.nextModel
			a.nextModel = append([]time.Duration(nil), a.model...)
		}
	}

	return prediction, nil
}

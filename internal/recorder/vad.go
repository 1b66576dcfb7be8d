package recorder

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// State is the voice activity state.
type State int32

const (
	Idle State = iota
	Recording
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Transition is the outcome of feeding one block to a [Detector].
type Transition int

const (
	TransitionNone Transition = iota
	TransitionStart
	TransitionStop
)

// Thresholds configures the detector's hysteresis.
type Thresholds struct {
	// Threshold is the loudness separating speech from silence.
	Threshold float64

	// StartDebounce is the time loudness must spend above Threshold, summed
	// since the last transition, before a recording starts.
	StartDebounce time.Duration

	// StopDebounce is the time loudness must spend below Threshold, summed
	// since the recording started, before it stops.
	StopDebounce time.Duration
}

// DefaultThresholds returns threshold 0.02, 15ms start and 1500ms stop
// debounce.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Threshold:     0.02,
		StartDebounce: 15 * time.Millisecond,
		StopDebounce:  1500 * time.Millisecond,
	}
}

// Validate reports values the detector cannot work with.
func (t Thresholds) Validate() error {
	var errs []error
	if t.Threshold < 0 || t.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v outside [0, 1]", t.Threshold))
	}
	if t.StartDebounce < 0 {
		errs = append(errs, fmt.Errorf("start debounce %v is negative", t.StartDebounce))
	}
	if t.StopDebounce < 0 {
		errs = append(errs, fmt.Errorf("stop debounce %v is negative", t.StopDebounce))
	}
	return errors.Join(errs...)
}

// Detector is the hysteresis state machine deciding when speech starts and
// stops.
//
// Observe is called from a single goroutine (the audio callback). State,
// Accumulated and Thresholds may be read concurrently from any goroutine,
// and SetThresholds takes effect on the next observed block.
type Detector struct {
	state      atomic.Int32
	above      atomic.Int64
	below      atomic.Int64
	thresholds atomic.Pointer[Thresholds]
}

// NewDetector returns an Idle detector using t.
func NewDetector(t Thresholds) *Detector {
	d := &Detector{}
	d.SetThresholds(t)
	return d
}

// Thresholds returns the active configuration.
func (d *Detector) Thresholds() Thresholds {
	return *d.thresholds.Load()
}

// SetThresholds replaces the configuration.
func (d *Detector) SetThresholds(t Thresholds) {
	d.thresholds.Store(&t)
}

// State returns the current state.
func (d *Detector) State() State {
	return State(d.state.Load())
}

// Accumulated returns the time spent above and below the threshold since the
// last transition.
func (d *Detector) Accumulated() (above, below time.Duration) {
	return time.Duration(d.above.Load()), time.Duration(d.below.Load())
}

// Observe feeds the loudness of one block lasting dt and performs any
// resulting transition.
//
// In Idle, time above the threshold accumulates and a block on or below it
// leaves the sum untouched; the recording starts once the sum exceeds
// StartDebounce. Recording stops symmetrically once the time spent strictly
// below the threshold exceeds StopDebounce.
func (d *Detector) Observe(level float64, dt time.Duration) Transition {
	t := d.thresholds.Load()
	switch d.State() {
	case Idle:
		if level > t.Threshold && time.Duration(d.above.Add(int64(dt))) > t.StartDebounce {
			if d.Begin() {
				return TransitionStart
			}
		}
	case Recording:
		if level < t.Threshold && time.Duration(d.below.Add(int64(dt))) > t.StopDebounce {
			if d.End() {
				return TransitionStop
			}
		}
	}
	return TransitionNone
}

// Begin enters Recording and clears both accumulators. It returns false,
// changing nothing, when already Recording.
func (d *Detector) Begin() bool {
	if !d.state.CompareAndSwap(int32(Idle), int32(Recording)) {
		return false
	}
	d.clear()
	return true
}

// End enters Idle and clears both accumulators. It returns false, changing
// nothing, when already Idle.
func (d *Detector) End() bool {
	if !d.state.CompareAndSwap(int32(Recording), int32(Idle)) {
		return false
	}
	d.clear()
	return true
}

// Reset forces Idle with cleared accumulators.
func (d *Detector) Reset() {
	d.state.Store(int32(Idle))
	d.clear()
}

func (d *Detector) clear() {
	d.above.Store(0)
	d.below.Store(0)
}

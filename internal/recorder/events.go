package recorder

import (
	"slices"
	"sync"
)

// EventKind identifies a notification raised by the [Engine].
type EventKind int

const (
	// EventRecordingEnabledChanged fires when [Engine.CanStartRecording]
	// flips. Event.Enabled carries the new value.
	EventRecordingEnabledChanged EventKind = iota

	// EventInputDevicesEnumerated fires after the capture device list was
	// refreshed. Event.Count is the number of devices found.
	EventInputDevicesEnumerated

	// EventOutputDevicesEnumerated fires after the render device list was
	// refreshed. Event.Count is the number of devices found.
	EventOutputDevicesEnumerated

	// EventNewRecordingSaved fires once a recording carries its canonical
	// name. Event.FileName is that name.
	EventNewRecordingSaved

	// EventRecordingStarted fires when voice activity starts a recording.
	EventRecordingStarted

	// EventRecordingStopped fires when a recording stops. Event.FileName is
	// the canonical name it is about to be saved under.
	EventRecordingStopped

	// EventRecordingSealFailed fires when the rename of a stopped recording
	// failed. Event.FileName is the provisional name the audio was kept
	// under and Event.Err is a [*RenameError].
	EventRecordingSealFailed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventRecordingEnabledChanged:
		return "recording-enabled-changed"
	case EventInputDevicesEnumerated:
		return "input-devices-enumerated"
	case EventOutputDevicesEnumerated:
		return "output-devices-enumerated"
	case EventNewRecordingSaved:
		return "new-recording-saved"
	case EventRecordingStarted:
		return "recording-started"
	case EventRecordingStopped:
		return "recording-stopped"
	case EventRecordingSealFailed:
		return "recording-seal-failed"
	default:
		return "unknown"
	}
}

// Event is a notification delivered to subscribers. Only the fields
// documented for its Kind are set.
type Event struct {
	Kind     EventKind
	Enabled  bool
	Count    int
	FileName string
	Err      error
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Bus fans events out to subscribers in subscription order. The zero value
// is ready to use.
//
// Handlers run synchronously on the goroutine that raised the event, which
// for recording events is the audio callback. They must return quickly and
// must not call back into the [Engine]'s configuration methods.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
}

// Subscribe registers fn and returns a function that removes it. Every call
// adds a distinct subscription, even for the same fn. The returned function
// is safe to call more than once.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := slices.Clone(b.subs)
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

package audio

import (
	"fmt"
	"time"
)

// Direction tells capture devices apart from render devices.
type Direction int

const (
	// Capture is an input device (microphone, line-in).
	Capture Direction = iota

	// Render is an output device (speakers, headset).
	Render
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case Capture:
		return "capture"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

// Device is an audio endpoint reported by an [Enumerator]. Devices are
// immutable once enumerated; callers refer to them by pointer and compare
// selections by pointer identity.
type Device struct {
	// ID is the backend-specific identifier used to open the device.
	ID string

	// Name is the human-readable device name.
	Name string

	// Direction is Capture or Render.
	Direction Direction

	// IsDefault is true for the system default device of its direction.
	IsDefault bool
}

// String returns the device name, or a placeholder for a nil device.
func (d *Device) String() string {
	if d == nil {
		return "(none)"
	}
	return d.Name
}

// Format describes the PCM layout of a stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// SpeechFormat is the capture format used for voice recordings: mono,
// 16-bit, 44.1 kHz.
var SpeechFormat = Format{SampleRate: 44100, Channels: 1, BitDepth: 16}

// String returns a short description such as "44100Hz mono 16bit".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %dbit", f.SampleRate, ch, f.BitDepth)
}

// BytesPerFrame returns the size of one sample frame across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// Block is one audio quantum delivered by a graph to its block observer.
// Data holds little-endian IEEE-754 float32 samples normalised to [-1, 1].
type Block struct {
	Data []byte

	// Duration is the playback length of the block.
	Duration time.Duration
}

// RenderCategory hints the platform about the purpose of a render stream.
type RenderCategory int

const (
	RenderCategoryOther RenderCategory = iota
	RenderCategorySpeech
)

// MediaCategory hints the platform about the purpose of a capture stream.
type MediaCategory int

const (
	MediaCategoryOther MediaCategory = iota
	MediaCategorySpeech
)

// Container names a file container understood by a file writer node.
type Container string

const (
	// ContainerWAV is RIFF/WAVE with PCM payload.
	ContainerWAV Container = "wav"
)

// IsValid reports whether c is a supported container.
func (c Container) IsValid() bool {
	return c == ContainerWAV
}

// EncodingProfile tells a file writer node how to encode the stream.
type EncodingProfile struct {
	Container Container
	Format    Format
}

// Extension returns the file extension for the profile, without the dot.
func (p EncodingProfile) Extension() string {
	return string(p.Container)
}

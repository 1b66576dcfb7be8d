// Package malgo provides an [audio.Enumerator] and [audio.GraphFactory]
// backed by miniaudio through github.com/gen2brain/malgo.
//
// Each graph is a small push-based node network: capture devices push 16-bit
// PCM periods to their sinks, monitor taps report them to the block observer
// as float32 blocks, file writers encode them with audio/wavfile, and render
// nodes queue them for their playback device. File readers pace themselves
// on a ticker at the graph's period.
//
// The device layer needs cgo. Builds without cgo, or with the noaudio tag,
// get a driver that reports [ErrAudioUnavailable] for every device
// operation.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Enumerator   = (*Backend)(nil)
	_ audio.GraphFactory = (*Backend)(nil)
)

// ErrAudioUnavailable is returned when the binary was built without a device
// layer.
var ErrAudioUnavailable = errors.New("malgo: audio was disabled during compilation")

// Period is the length of one processing quantum.
const Period = 10 * time.Millisecond

// device is a started or stopped hardware stream.
type device interface {
	Start() error
	Stop() error
	Uninit()
}

// driver is the device layer. id "" selects the system default device.
type driver interface {
	name() string
	devices(dir audio.Direction) ([]audio.Device, error)
	openCapture(id string, f audio.Format, cb func(in []byte, frames int)) (device, error)
	openPlayback(id string, f audio.Format, cb func(out []byte, frames int)) (device, error)
	free() error
}

// newDriver is set by the build-specific driver file.
var newDriver func() (driver, error)

// Backend opens devices through one miniaudio context.
//
// Backend is safe for concurrent use.
type Backend struct {
	drv    driver
	format audio.Format
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option configures a [Backend].
type Option func(*Backend)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithRenderFormat sets the PCM format of render devices. Defaults to
// [audio.SpeechFormat].
func WithRenderFormat(f audio.Format) Option {
	return func(b *Backend) { b.format = f }
}

// New initialises the device layer.
func New(opts ...Option) (*Backend, error) {
	drv, err := newDriver()
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return newBackend(drv, opts...), nil
}

func newBackend(drv driver, opts ...Option) *Backend {
	b := &Backend{drv: drv, format: audio.SpeechFormat, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the name of the device layer in use.
func (b *Backend) Name() string {
	return b.drv.name()
}

// ListDevices implements [audio.Enumerator].
func (b *Backend) ListDevices(ctx context.Context, dir audio.Direction) ([]audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devs, err := b.drv.devices(dir)
	if err != nil {
		return nil, fmt.Errorf("malgo: list %s devices: %w", dir, err)
	}
	for i := range devs {
		devs[i].Direction = dir
	}
	return devs, nil
}

// CreateGraph implements [audio.GraphFactory]. output may be nil for the
// system default render device.
func (b *Backend) CreateGraph(ctx context.Context, _ audio.RenderCategory, output *audio.Device) (audio.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("malgo: backend closed")
	}
	id := ""
	if output != nil {
		id = output.ID
	}
	return newGraph(b.drv, b.format, id, b.log), nil
}

// Close releases the miniaudio context. Graphs created by b must be closed
// first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.drv.free()
}

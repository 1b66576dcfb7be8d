// Package recorder is a voice-activated recorder. It monitors a capture
// device, decides with a hysteresis loudness threshold when speech starts and
// stops, saves every utterance as its own timestamped file, relays the live
// signal to an output device, and plays saved utterances back.
//
// The [Engine] is the entry point. It is constructed explicitly and owns its
// collaborators:
//
//   - a [Catalog] of capture and render devices,
//   - a [Pipeline] with the recording graph, driving a [Meter] and a
//     [Detector] from the block callback,
//   - [Sessions], rotating file sinks and sealing finished recordings,
//   - [Playback] on a separate graph.
//
// Notifications are delivered through a [Bus]; see [Engine.Subscribe].
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/pkg/audio"
)

// Engine ties device selection, the recording pipeline and playback
// together. All methods are safe for concurrent use.
type Engine struct {
	catalog  *Catalog
	pipeline *Pipeline
	sessions *Sessions
	playback *Playback
	bus      *Bus
	log      *slog.Logger
}

// config collects the values set by [Option].
type config struct {
	log        *slog.Logger
	metrics    *observe.Metrics
	now        func() time.Time
	thresholds Thresholds
	profile    audio.EncodingProfile
	monitoring bool
}

// Option configures an [Engine].
type Option func(*config)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithClock sets the wall clock used to timestamp recordings.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithThresholds sets the initial detector configuration. Defaults to
// [DefaultThresholds].
func WithThresholds(t Thresholds) Option {
	return func(c *config) { c.thresholds = t }
}

// WithEncodingProfile sets the container and format of saved recordings.
// Defaults to WAV at [audio.SpeechFormat].
func WithEncodingProfile(p audio.EncodingProfile) Option {
	return func(c *config) { c.profile = p }
}

// WithMonitoring sets whether a newly configured pipeline starts scheduling
// blocks right away. Defaults to true.
func WithMonitoring(on bool) Option {
	return func(c *config) { c.monitoring = on }
}

// New returns an engine using enum to discover devices, graphs to build
// audio graphs, and store to keep recordings. Call [Engine.Close] to release
// it.
func New(enum audio.Enumerator, graphs audio.GraphFactory, store Store, opts ...Option) *Engine {
	cfg := config{
		log:        slog.Default(),
		now:        time.Now,
		thresholds: DefaultThresholds(),
		profile:    audio.EncodingProfile{Container: audio.ContainerWAV, Format: audio.SpeechFormat},
		monitoring: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}

	bus := &Bus{}
	sessions := newSessions(store, cfg.profile, cfg.now, bus, cfg.metrics, cfg.log)
	p := &Pipeline{
		graphs:   graphs,
		sessions: sessions,
		meter:    &Meter{},
		vad:      NewDetector(cfg.thresholds),
		metrics:  cfg.metrics,
		log:      cfg.log,
	}
	p.monitoring.Store(cfg.monitoring)

	return &Engine{
		catalog:  NewCatalog(enum, bus),
		pipeline: p,
		sessions: sessions,
		playback: newPlayback(graphs, store, cfg.profile.Extension(), cfg.metrics, cfg.log),
		bus:      bus,
		log:      cfg.log,
	}
}

// Subscribe registers fn for all engine notifications and returns a function
// that removes it. See [Bus] for the delivery rules.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.bus.Subscribe(fn)
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Catalog returns the device catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Enumerate refreshes the device list for dir; see [Catalog.Enumerate].
func (e *Engine) Enumerate(ctx context.Context, dir audio.Direction, force bool) error {
	return e.catalog.Enumerate(ctx, dir, force)
}

// SelectInput selects the capture device. It does not reconfigure a live
// pipeline; call [Engine.Configure] for that.
func (e *Engine) SelectInput(dev *audio.Device) error {
	return e.catalog.Select(audio.Capture, dev)
}

// SelectOutput selects the render device used by the pipeline and playback.
func (e *Engine) SelectOutput(dev *audio.Device) error {
	return e.catalog.Select(audio.Render, dev)
}

// CanStartRecording reports whether both devices are selected.
func (e *Engine) CanStartRecording() bool {
	return e.catalog.CanStartRecording()
}

// ─── Pipeline ─────────────────────────────────────────────────────────────────

// Configure (re)builds the recording pipeline for the selected devices.
func (e *Engine) Configure(ctx context.Context) error {
	in, out := e.catalog.Selected(audio.Capture), e.catalog.Selected(audio.Render)
	if in == nil || out == nil {
		return fmt.Errorf("%w: input and output devices must be selected", ErrInvalidDeviceSelection)
	}
	return e.pipeline.Configure(ctx, in, out)
}

// Teardown disposes the recording pipeline. A recording in progress is
// saved.
func (e *Engine) Teardown() {
	e.pipeline.Teardown()
}

// StartMonitoring resumes block delivery. It returns [ErrNotConfigured] when
// no pipeline is live; monitoring then starts with the next Configure.
func (e *Engine) StartMonitoring() error {
	return e.pipeline.StartMonitoring()
}

// StopMonitoring suspends block delivery without affecting the file sink.
func (e *Engine) StopMonitoring() error {
	return e.pipeline.StopMonitoring()
}

// IsMonitoring reports whether blocks are being delivered.
func (e *Engine) IsMonitoring() bool {
	return e.pipeline.IsMonitoring()
}

// PipelineState returns the lifecycle state of the recording pipeline.
func (e *Engine) PipelineState() PipelineState {
	return e.pipeline.State()
}

// IsRecording reports whether speech is currently being recorded.
func (e *Engine) IsRecording() bool {
	return e.pipeline.vad.State() == Recording
}

// Loudness returns the loudness of the last processed block.
func (e *Engine) Loudness() float64 {
	return e.pipeline.meter.Loudness()
}

// Thresholds returns the detector configuration.
func (e *Engine) Thresholds() Thresholds {
	return e.pipeline.vad.Thresholds()
}

// SetThresholds changes the detector configuration. It applies from the next
// processed block.
func (e *Engine) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("recorder: invalid thresholds: %w", err)
	}
	e.pipeline.vad.SetThresholds(t)
	return nil
}

// ─── Recordings ───────────────────────────────────────────────────────────────

// Recordings lists the saved recordings, oldest first.
func (e *Engine) Recordings(ctx context.Context) ([]SavedRecording, error) {
	return e.sessions.Recordings(ctx)
}

// RecoverProvisional saves recordings left under a provisional name; see
// [Sessions.RecoverProvisional].
func (e *Engine) RecoverProvisional(ctx context.Context) ([]string, error) {
	return e.sessions.RecoverProvisional(ctx)
}

// Flush waits until every stopped recording has been saved or reported as
// failed.
func (e *Engine) Flush() {
	e.sessions.Flush()
}

// Play plays the recording stopped at ts on the selected output device.
func (e *Engine) Play(ctx context.Context, ts time.Time) error {
	return e.playback.Play(ctx, ts, e.catalog.Selected(audio.Render))
}

// StopPlayback stops the current playback, if any.
func (e *Engine) StopPlayback() {
	e.playback.Stop()
}

// IsPlaying reports whether a recording is being played.
func (e *Engine) IsPlaying() bool {
	return e.playback.IsPlaying()
}

// WaitPlayback blocks until the current playback ends or ctx is done.
func (e *Engine) WaitPlayback(ctx context.Context) error {
	return e.playback.Wait(ctx)
}

// Close tears down the pipeline, saves a recording in progress, waits for
// pending saves, and releases the playback graph.
func (e *Engine) Close() error {
	e.pipeline.Teardown()
	e.sessions.close()
	return e.playback.Close()
}

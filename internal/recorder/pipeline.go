package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/pkg/audio"
)

// PipelineState is the lifecycle state of the recording pipeline.
type PipelineState int32

const (
	Unconfigured PipelineState = iota
	Building
	Live
	TearingDown
)

// String returns the human-readable name of the state.
func (s PipelineState) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Building:
		return "building"
	case Live:
		return "live"
	case TearingDown:
		return "tearing-down"
	default:
		return "unknown"
	}
}

// Pipeline owns the recording graph: capture node, monitor tap, file sink
// and render relay. It feeds every delivered block through the [Meter] and
// the [Detector] and forwards transitions to [Sessions].
//
// Configure, Teardown and the monitoring switches are serialised; a call
// waits for the one in progress and then runs to completion.
type Pipeline struct {
	graphs   audio.GraphFactory
	sessions *Sessions
	meter    *Meter
	vad      *Detector
	metrics  *observe.Metrics
	log      *slog.Logger

	// ctrlMu serialises configuration. Lock order: ctrlMu, blockMu, Sessions.mu.
	ctrlMu sync.Mutex
	graph  audio.Graph
	nodes  []audio.Node

	// blockMu is held while a block is processed so teardown can wait for an
	// in-flight callback.
	blockMu sync.Mutex

	state      atomic.Int32
	monitoring atomic.Bool
	gen        atomic.Uint64
}

// Configure tears down any live graph and builds a new one reading from in
// and relaying to out. Either every node is created and wired, or the
// attempt is rolled back entirely and the pipeline is left Unconfigured.
//
// Graph scheduling starts only while monitoring is enabled.
func (p *Pipeline) Configure(ctx context.Context, in, out *audio.Device) (err error) {
	p.ctrlMu.Lock()
	defer p.ctrlMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "recorder.configure", trace.WithAttributes(
		attribute.String("input", in.String()),
		attribute.String("output", out.String()),
	))
	defer func() { observe.EndSpan(span, err) }()
	start := time.Now()

	p.teardownLocked()
	p.state.Store(int32(Building))

	stage, err := p.build(ctx, in, out)
	if err != nil {
		p.state.Store(int32(Unconfigured))
		p.metrics.RecordConfigureFailure(ctx, stage)
		observe.Logger(ctx, p.log).Error("recorder: configure pipeline", "stage", stage, "err", err)
		return err
	}

	p.state.Store(int32(Live))
	p.metrics.ConfigureDuration.Record(ctx, time.Since(start).Seconds())
	observe.Logger(ctx, p.log).Info("pipeline live", "input", in.String(), "output", out.String(), "monitoring", p.monitoring.Load())
	return nil
}

// build creates and wires the graph. On failure it returns the failing stage
// and leaves nothing behind.
func (p *Pipeline) build(ctx context.Context, in, out *audio.Device) (stage string, err error) {
	g, err := p.graphs.CreateGraph(ctx, audio.RenderCategorySpeech, out)
	if err != nil {
		return "graph", fmt.Errorf("%w: %w", ErrGraphCreation, err)
	}

	var (
		created  []audio.Node
		sink     audio.Node
		sinkName string
	)
	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			_ = created[i].Close()
		}
		if sink != nil {
			p.sessions.discard(sink, sinkName)
		}
		_ = g.Close()
	}

	capture, err := g.CreateCaptureNode(ctx, audio.MediaCategorySpeech, audio.SpeechFormat, in)
	if err != nil {
		rollback()
		return string(NodeCapture), &NodeError{Kind: NodeCapture, Err: err}
	}
	created = append(created, capture)

	tap := g.CreateMonitorTap()
	created = append(created, tap)

	sink, sinkName, err = p.sessions.prepare(ctx, g)
	if err != nil {
		rollback()
		return string(NodeFileWriter), err
	}

	relay, err := g.CreateRenderNode(ctx)
	if err != nil {
		rollback()
		return string(NodeRender), &NodeError{Kind: NodeRender, Err: err}
	}
	created = append(created, relay)

	for _, n := range []audio.Node{tap, relay, sink} {
		if err := capture.Attach(n); err != nil {
			rollback()
			return "wire", fmt.Errorf("recorder: wire pipeline: %w", err)
		}
	}

	gen := p.gen.Add(1)
	g.OnBlock(func(b audio.Block) { p.deliver(gen, b) })
	p.sessions.bind(g, capture, sink, sinkName)
	p.graph, p.nodes = g, created
	p.metrics.PipelineLive.Add(ctx, 1)

	if p.monitoring.Load() {
		if err := g.Start(); err != nil {
			p.teardownLocked()
			return "start", fmt.Errorf("recorder: start graph: %w", err)
		}
	}
	return "", nil
}

// deliver is the block observer registered on the graph of generation gen.
func (p *Pipeline) deliver(gen uint64, b audio.Block) {
	p.blockMu.Lock()
	defer p.blockMu.Unlock()
	if p.gen.Load() != gen {
		return
	}
	p.process(b)
}

// process runs the meter and the detector over one block. It is only called
// with blockMu held.
func (p *Pipeline) process(b audio.Block) {
	level, ok := p.meter.Observe(b)
	p.metrics.RecordBlock(context.Background(), !ok, level)
	if !ok {
		return
	}
	switch p.vad.Observe(level, b.Duration) {
	case TransitionStart:
		if !p.sessions.start() {
			// No sink to write to; keep the detector in step with the sessions.
			p.vad.Reset()
		}
	case TransitionStop:
		p.sessions.stop()
	}
}

// Teardown disposes the graph and all its nodes. It is safe to call when
// nothing is configured. A recording in progress is saved.
func (p *Pipeline) Teardown() {
	p.ctrlMu.Lock()
	defer p.ctrlMu.Unlock()
	p.teardownLocked()
}

func (p *Pipeline) teardownLocked() {
	g := p.graph
	if g == nil {
		return
	}
	p.state.Store(int32(TearingDown))

	// Invalidate the observer first; OnBlock(nil) then waits for a callback
	// that is already running, and blockMu catches one that got past the
	// generation check.
	p.gen.Add(1)
	g.OnBlock(nil)
	p.blockMu.Lock()
	p.sessions.unbind()
	p.vad.Reset()
	p.meter.Reset()
	p.blockMu.Unlock()

	if err := g.Stop(); err != nil {
		p.log.Warn("recorder: stop graph", "err", err)
	}
	var errs []error
	for i := len(p.nodes) - 1; i >= 0; i-- {
		errs = append(errs, p.nodes[i].Close())
	}
	errs = append(errs, g.Close())
	if err := errors.Join(errs...); err != nil {
		p.log.Warn("recorder: dispose graph", "err", err)
	}
	p.graph, p.nodes = nil, nil
	p.state.Store(int32(Unconfigured))
	p.metrics.PipelineLive.Add(context.Background(), -1)
}

// StartMonitoring enables graph scheduling. The choice is remembered across
// reconfiguration.
func (p *Pipeline) StartMonitoring() error {
	p.ctrlMu.Lock()
	defer p.ctrlMu.Unlock()
	p.monitoring.Store(true)
	if p.graph == nil {
		return ErrNotConfigured
	}
	if err := p.graph.Start(); err != nil {
		return fmt.Errorf("recorder: start graph: %w", err)
	}
	return nil
}

// StopMonitoring suspends graph scheduling. A recording in progress stays
// open until speech resumes and stops again, or the pipeline is torn down.
func (p *Pipeline) StopMonitoring() error {
	p.ctrlMu.Lock()
	defer p.ctrlMu.Unlock()
	p.monitoring.Store(false)
	if p.graph == nil {
		return nil
	}
	if err := p.graph.Stop(); err != nil {
		return fmt.Errorf("recorder: stop graph: %w", err)
	}
	return nil
}

// IsMonitoring reports whether a live graph is scheduling blocks.
func (p *Pipeline) IsMonitoring() bool {
	return p.monitoring.Load() && p.State() == Live
}

// State returns the lifecycle state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/racecomm/internal/observe"
	"github.com/MrWong99/racecomm/pkg/audio"
)

// Playback plays saved recordings through its own graph, separate from the
// recording pipeline. At most one recording plays at a time.
type Playback struct {
	graphs  audio.GraphFactory
	store   Store
	ext     string
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	graph  audio.Graph
	output *audio.Device
	relay  audio.Node
	reader audio.SourceNode
}

func newPlayback(graphs audio.GraphFactory, store Store, ext string, m *observe.Metrics, log *slog.Logger) *Playback {
	return &Playback{graphs: graphs, store: store, ext: ext, metrics: m, log: log}
}

// Play starts the recording stopped at ts on out, replacing any recording
// that is playing. When no such recording exists it returns
// [ErrFileNotFound] and the current playback continues untouched.
func (p *Playback) Play(ctx context.Context, ts time.Time, out *audio.Device) (err error) {
	name := RecordingName(ts, p.ext)
	ctx, span := observe.StartSpan(ctx, "recorder.play", trace.WithAttributes(attribute.String("file", name)))
	defer func() { observe.EndSpan(span, err) }()

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.store.OpenFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.metrics.RecordPlayback(ctx, "not_found")
			return fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		p.metrics.RecordPlayback(ctx, "error")
		return fmt.Errorf("recorder: open %s: %w", name, err)
	}

	g, relay, fresh, err := p.playbackGraph(ctx, out)
	if err != nil {
		_ = f.Close()
		p.metrics.RecordPlayback(ctx, "error")
		return err
	}

	reader, err := g.CreateFileReaderNode(ctx, f)
	if err != nil {
		_ = f.Close()
		if fresh {
			_ = relay.Close()
			_ = g.Close()
		}
		p.metrics.RecordPlayback(ctx, "error")
		return &NodeError{Kind: NodeFileReader, Err: err}
	}

	// Only now is the current playback given up.
	if fresh {
		_ = p.closeGraphLocked()
		p.graph, p.output, p.relay = g, out, relay
	} else {
		p.stopLocked()
	}

	if err := reader.Attach(p.relay); err != nil {
		_ = reader.Close()
		p.metrics.RecordPlayback(ctx, "error")
		return fmt.Errorf("recorder: connect %s to output: %w", name, err)
	}
	if err := reader.Start(); err != nil {
		_ = reader.Detach(p.relay)
		_ = reader.Close()
		p.metrics.RecordPlayback(ctx, "error")
		return fmt.Errorf("recorder: start playback of %s: %w", name, err)
	}
	p.reader = reader
	p.metrics.RecordPlayback(ctx, "ok")
	observe.Logger(ctx, p.log).Info("playback started", "file", name, "output", out.String())
	return nil
}

// playbackGraph returns the running playback graph when it is bound to out.
// Otherwise it builds and starts a new one, reported as fresh, leaving the
// current graph and playback untouched.
func (p *Playback) playbackGraph(ctx context.Context, out *audio.Device) (g audio.Graph, relay audio.Node, fresh bool, err error) {
	if p.graph != nil && p.output == out {
		return p.graph, p.relay, false, nil
	}
	g, err = p.graphs.CreateGraph(ctx, audio.RenderCategorySpeech, out)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: playback: %w", ErrGraphCreation, err)
	}
	relay, err = g.CreateRenderNode(ctx)
	if err != nil {
		_ = g.Close()
		return nil, nil, false, &NodeError{Kind: NodeRender, Err: err}
	}
	if err := g.Start(); err != nil {
		_ = relay.Close()
		_ = g.Close()
		return nil, nil, false, fmt.Errorf("recorder: start playback graph: %w", err)
	}
	return g, relay, true, nil
}

// Stop stops the current playback, if any.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Playback) stopLocked() {
	if p.reader == nil {
		return
	}
	if err := p.reader.Stop(); err != nil {
		p.log.Warn("recorder: stop playback", "err", err)
	}
	_ = p.reader.Detach(p.relay)
	if err := p.reader.Close(); err != nil {
		p.log.Warn("recorder: close playback reader", "err", err)
	}
	p.reader = nil
}

// IsPlaying reports whether a recording is still being played.
func (p *Playback) IsPlaying() bool {
	p.mu.Lock()
	r := p.reader
	p.mu.Unlock()
	if r == nil {
		return false
	}
	select {
	case <-r.Done():
		return false
	default:
		return true
	}
}

// Wait blocks until the current playback finishes or ctx is done. It returns
// immediately when nothing is playing.
func (p *Playback) Wait(ctx context.Context) error {
	p.mu.Lock()
	r := p.reader
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops playback and releases the playback graph.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return p.closeGraphLocked()
}

func (p *Playback) closeGraphLocked() error {
	p.stopLocked()
	if p.graph == nil {
		return nil
	}
	_ = p.relay.Close()
	err := p.graph.Close()
	p.graph, p.output, p.relay = nil, nil, nil
	return err
}

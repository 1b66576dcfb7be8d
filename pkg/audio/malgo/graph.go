package malgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/racecomm/pkg/audio"
	"github.com/MrWong99/racecomm/pkg/audio/wavfile"
)

var _ audio.Graph = (*graph)(nil)

// maxQueued bounds the audio a render node buffers ahead of its device.
const maxQueued = 500 * time.Millisecond

var errGraphClosed = errors.New("malgo: graph closed")

// sink is a node that accepts audio pushed by a source.
type sink interface {
	audio.Node
	push(pcm []int16, f audio.Format)
}

// graph is a push-based [audio.Graph]. Capture callbacks and file reader
// goroutines drive it; there is no central clock.
type graph struct {
	drv    driver
	format audio.Format
	output string
	log    *slog.Logger

	// runMu serializes Start and Stop.
	runMu sync.Mutex

	mu      sync.Mutex
	nodes   []audio.Node
	devices []device
	started bool
	closed  bool

	// obsMu is held while the observer runs so OnBlock(nil) can wait for it.
	obsMu    sync.Mutex
	observer func(audio.Block)
	blockBuf []byte
}

func newGraph(drv driver, format audio.Format, output string, log *slog.Logger) *graph {
	return &graph{drv: drv, format: format, output: output, log: log}
}

// register adds n (and its device, if any) to the graph. The device is
// started when the graph already is.
func (g *graph) register(n audio.Node, d device) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errGraphClosed
	}
	g.nodes = append(g.nodes, n)
	if d == nil {
		return nil
	}
	g.devices = append(g.devices, d)
	if g.started {
		return d.Start()
	}
	return nil
}

// release stops and frees d and forgets it.
func (g *graph) release(d device) {
	g.mu.Lock()
	g.devices = slices.DeleteFunc(g.devices, func(x device) bool { return x == d })
	g.mu.Unlock()
	if err := d.Stop(); err != nil {
		g.log.Debug("malgo: stop device", "err", err)
	}
	d.Uninit()
}

func (g *graph) checkOpen() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errGraphClosed
	}
	return nil
}

// CreateCaptureNode implements [audio.Graph].
func (g *graph) CreateCaptureNode(_ context.Context, _ audio.MediaCategory, format audio.Format, dev *audio.Device) (audio.Node, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("malgo: unsupported capture bit depth %d", format.BitDepth)
	}
	id := ""
	if dev != nil {
		id = dev.ID
	}
	n := &captureNode{g: g, format: format}
	n.enabled.Store(true)
	d, err := g.drv.openCapture(id, format, n.onData)
	if err != nil {
		return nil, fmt.Errorf("malgo: open capture device %s: %w", dev, err)
	}
	n.dev = d
	if err := g.register(n, d); err != nil {
		d.Uninit()
		return nil, fmt.Errorf("malgo: start capture device %s: %w", dev, err)
	}
	return n, nil
}

// CreateRenderNode implements [audio.Graph].
func (g *graph) CreateRenderNode(context.Context) (audio.Node, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	n := &renderNode{
		terminal: terminal{kind: "render"},
		conv:     audio.Converter{Target: g.format},
		limit:    g.format.Channels * int(int64(g.format.SampleRate)*int64(maxQueued)/int64(time.Second)),
		enabled:  true,
	}
	d, err := g.drv.openPlayback(g.output, g.format, n.onPull)
	if err != nil {
		return nil, fmt.Errorf("malgo: open render device: %w", err)
	}
	n.g, n.dev = g, d
	if err := g.register(n, d); err != nil {
		d.Uninit()
		return nil, fmt.Errorf("malgo: start render device: %w", err)
	}
	return n, nil
}

// CreateFileWriterNode implements [audio.Graph]. The node is created paused.
func (g *graph) CreateFileWriterNode(_ context.Context, f audio.File, profile audio.EncodingProfile) (audio.Node, error) {
	if !profile.Container.IsValid() {
		return nil, fmt.Errorf("malgo: unsupported container %q", profile.Container)
	}
	w, err := wavfile.NewWriter(f, profile.Format)
	if err != nil {
		return nil, err
	}
	n := &writerNode{
		terminal: terminal{kind: "file writer"},
		file:     f,
		w:        w,
		conv:     audio.Converter{Target: profile.Format},
		log:      g.log,
	}
	if err := g.register(n, nil); err != nil {
		_ = w.Close()
		return nil, err
	}
	return n, nil
}

// CreateFileReaderNode implements [audio.Graph]. On error f is left open.
func (g *graph) CreateFileReaderNode(_ context.Context, f audio.File) (audio.SourceNode, error) {
	r, err := wavfile.NewReader(f)
	if err != nil {
		return nil, err
	}
	n := &readerNode{
		file: f,
		r:    r,
		log:  g.log,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	if err := g.register(n, nil); err != nil {
		return nil, err
	}
	return n, nil
}

// CreateMonitorTap implements [audio.Graph].
func (g *graph) CreateMonitorTap() audio.Node {
	n := &tapNode{terminal: terminal{kind: "monitor tap"}, g: g}
	n.enabled.Store(true)
	_ = g.register(n, nil)
	return n
}

// OnBlock implements [audio.Graph].
func (g *graph) OnBlock(cb func(audio.Block)) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	g.observer = cb
}

// emit reports pcm to the observer. Block.Data is only valid during the
// call.
func (g *graph) emit(pcm []int16, f audio.Format) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	if g.observer == nil {
		return
	}
	g.blockBuf = audio.AppendFloat32(g.blockBuf[:0], pcm)
	frames := len(pcm)
	if f.Channels > 0 {
		frames /= f.Channels
	}
	g.observer(audio.Block{Data: g.blockBuf, Duration: audio.FrameDuration(frames, f)})
}

// Start implements [audio.Graph].
func (g *graph) Start() error {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return errGraphClosed
	}
	g.started = true
	devs := slices.Clone(g.devices)
	g.mu.Unlock()

	var errs []error
	for _, d := range devs {
		errs = append(errs, d.Start())
	}
	return errors.Join(errs...)
}

// Stop implements [audio.Graph]. A device stop waits for its running data
// callback, and that callback may create nodes, so g.mu is not held here.
func (g *graph) Stop() error {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	g.mu.Lock()
	g.started = false
	devs := slices.Clone(g.devices)
	g.mu.Unlock()

	var errs []error
	for _, d := range devs {
		errs = append(errs, d.Stop())
	}
	return errors.Join(errs...)
}

// Close implements [audio.Graph].
func (g *graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.started = false
	nodes := g.nodes
	g.nodes = nil
	g.mu.Unlock()

	g.OnBlock(nil)
	var errs []error
	for i := len(nodes) - 1; i >= 0; i-- {
		errs = append(errs, nodes[i].Close())
	}
	return errors.Join(errs...)
}

// ─── Node plumbing ────────────────────────────────────────────────────────────

// source keeps the outgoing connections of a node. The sink slice is never
// mutated in place so the audio goroutine can range over a snapshot.
type source struct {
	mu    sync.Mutex
	sinks []sink
}

// Attach implements [audio.Node].
func (s *source) Attach(n audio.Node) error {
	k, ok := n.(sink)
	if !ok {
		return fmt.Errorf("malgo: %T cannot receive audio", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.sinks, k) {
		s.sinks = append(slices.Clone(s.sinks), k)
	}
	return nil
}

// Detach implements [audio.Node].
func (s *source) Detach(n audio.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = slices.DeleteFunc(slices.Clone(s.sinks), func(k sink) bool { return audio.Node(k) == n })
	return nil
}

func (s *source) fanout(pcm []int16, f audio.Format) {
	s.mu.Lock()
	sinks := s.sinks
	s.mu.Unlock()
	for _, k := range sinks {
		k.push(pcm, f)
	}
}

// terminal is embedded by nodes without outputs.
type terminal struct{ kind string }

func (t terminal) Attach(audio.Node) error {
	return fmt.Errorf("malgo: %s node has no output", t.kind)
}

func (terminal) Detach(audio.Node) error { return nil }

// ─── Capture ──────────────────────────────────────────────────────────────────

type captureNode struct {
	source
	g       *graph
	format  audio.Format
	dev     device
	enabled atomic.Bool
	once    sync.Once

	// buf is only touched on the device callback goroutine.
	buf []int16
}

func (n *captureNode) onData(in []byte, _ int) {
	if !n.enabled.Load() {
		return
	}
	n.buf = audio.BytesToInt16(in, n.buf[:0])
	n.fanout(n.buf, n.format)
}

func (n *captureNode) Start() error { n.enabled.Store(true); return nil }
func (n *captureNode) Stop() error  { n.enabled.Store(false); return nil }

func (n *captureNode) Close() error {
	n.once.Do(func() {
		n.enabled.Store(false)
		n.g.release(n.dev)
		n.mu.Lock()
		n.sinks = nil
		n.mu.Unlock()
	})
	return nil
}

// ─── Monitor tap ──────────────────────────────────────────────────────────────

type tapNode struct {
	terminal
	g       *graph
	enabled atomic.Bool
}

func (n *tapNode) push(pcm []int16, f audio.Format) {
	if n.enabled.Load() {
		n.g.emit(pcm, f)
	}
}

func (n *tapNode) Start() error { n.enabled.Store(true); return nil }
func (n *tapNode) Stop() error  { n.enabled.Store(false); return nil }
func (n *tapNode) Close() error { n.enabled.Store(false); return nil }

// ─── Render ───────────────────────────────────────────────────────────────────

// renderNode queues pushed audio for its playback device. Underruns play
// silence; when more than maxQueued is waiting the oldest samples are
// dropped.
type renderNode struct {
	terminal
	g     *graph
	dev   device
	limit int
	once  sync.Once

	mu      sync.Mutex
	conv    audio.Converter
	queue   []int16
	enabled bool
}

func (n *renderNode) push(pcm []int16, f audio.Format) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.enabled {
		return
	}
	n.queue = append(n.queue, n.conv.Convert(pcm, f)...)
	if over := len(n.queue) - n.limit; over > 0 {
		n.queue = n.queue[:copy(n.queue, n.queue[over:])]
	}
}

func (n *renderNode) onPull(out []byte, _ int) {
	n.mu.Lock()
	k := min(len(n.queue), len(out)/2)
	filled := audio.Int16ToBytes(n.queue[:k], out[:0])
	n.queue = n.queue[:copy(n.queue, n.queue[k:])]
	n.mu.Unlock()
	clear(out[len(filled):])
}

// Queued returns the number of samples waiting for the device.
func (n *renderNode) Queued() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

func (n *renderNode) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = true
	return nil
}

func (n *renderNode) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = false
	n.queue = n.queue[:0]
	return nil
}

func (n *renderNode) Close() error {
	n.once.Do(func() {
		_ = n.Stop()
		n.g.release(n.dev)
	})
	return nil
}

// ─── File writer ──────────────────────────────────────────────────────────────

type writerNode struct {
	terminal
	file audio.File
	w    *wavfile.Writer
	log  *slog.Logger

	mu      sync.Mutex
	conv    audio.Converter
	running bool
	failed  bool
	closed  bool

	once     sync.Once
	closeErr error
}

func (n *writerNode) push(pcm []int16, f audio.Format) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running || n.closed || n.failed {
		return
	}
	if err := n.w.Write(n.conv.Convert(pcm, f)); err != nil {
		n.failed = true
		n.log.Error("malgo: write recording", "file", n.file.Name(), "err", err)
	}
}

func (n *writerNode) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("malgo: file writer closed")
	}
	n.running = true
	return nil
}

func (n *writerNode) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = false
	return nil
}

// Close finalises the container and closes the file. Concurrent callers
// wait for the first one to finish.
func (n *writerNode) Close() error {
	n.once.Do(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.closed, n.running = true, false
		n.closeErr = errors.Join(n.w.Close(), n.file.Close())
	})
	return n.closeErr
}

// ─── File reader ──────────────────────────────────────────────────────────────

type readerNode struct {
	source
	file audio.File
	r    *wavfile.Reader
	log  *slog.Logger

	startMu sync.Mutex
	started bool
	paused  atomic.Bool
	wg      sync.WaitGroup

	quit     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	once     sync.Once
	closeErr error
}

// Start begins or resumes playback.
func (n *readerNode) Start() error {
	n.paused.Store(false)
	n.startMu.Lock()
	defer n.startMu.Unlock()
	if n.started {
		return nil
	}
	select {
	case <-n.quit:
		return errors.New("malgo: file reader closed")
	default:
	}
	n.started = true
	n.wg.Add(1)
	go n.run()
	return nil
}

func (n *readerNode) Stop() error {
	n.paused.Store(true)
	return nil
}

// run emits one period of audio per tick until the file ends.
func (n *readerNode) run() {
	defer n.wg.Done()
	format := n.r.Format()
	buf := make([]int16, format.Channels*int(int64(format.SampleRate)*int64(Period)/int64(time.Second)))
	tick := time.NewTicker(Period)
	defer tick.Stop()
	for {
		select {
		case <-n.quit:
			return
		case <-tick.C:
		}
		if n.paused.Load() {
			continue
		}
		k, err := n.r.Read(buf)
		if k > 0 {
			n.fanout(buf[:k], format)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				n.log.Warn("malgo: read recording", "file", n.file.Name(), "err", err)
			}
			n.finish()
			return
		}
	}
}

func (n *readerNode) finish() {
	n.doneOnce.Do(func() { close(n.done) })
}

// Done implements [audio.SourceNode].
func (n *readerNode) Done() <-chan struct{} {
	return n.done
}

func (n *readerNode) Close() error {
	n.once.Do(func() {
		n.startMu.Lock()
		close(n.quit)
		n.startMu.Unlock()
		n.wg.Wait()
		n.finish()
		n.closeErr = n.file.Close()
	})
	return n.closeErr
}

// Package mock provides in-memory implementations of the [audio.Enumerator],
// [audio.GraphFactory], [audio.Graph] and [audio.Node] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every node they create
// so that tests can assert on topology (attachments), lifecycle (started,
// closed) and call counts, and they expose exported error fields that the
// test can set to make a specific creation step fail.
//
// Typical usage:
//
//	factory := &mock.GraphFactory{FileWriterError: errors.New("disk full")}
//	g, _ := factory.CreateGraph(ctx, audio.RenderCategorySpeech, out)
//	_, err := g.CreateFileWriterNode(ctx, f, profile) // returns "disk full"
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// ─── Enumerator ───────────────────────────────────────────────────────────────

// Enumerator is a mock implementation of [audio.Enumerator].
type Enumerator struct {
	mu sync.Mutex

	// Capture is returned for [audio.Capture] requests.
	Capture []audio.Device

	// Render is returned for [audio.Render] requests.
	Render []audio.Device

	// Err is returned by every ListDevices call when non-nil.
	Err error

	// Calls records the direction of every ListDevices call.
	Calls []audio.Direction
}

// ListDevices implements [audio.Enumerator].
func (e *Enumerator) ListDevices(_ context.Context, dir audio.Direction) ([]audio.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, dir)
	if e.Err != nil {
		return nil, e.Err
	}
	if dir == audio.Capture {
		return slices.Clone(e.Capture), nil
	}
	return slices.Clone(e.Render), nil
}

// SetDevices replaces the device list for dir.
func (e *Enumerator) SetDevices(dir audio.Direction, devs ...audio.Device) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dir == audio.Capture {
		e.Capture = devs
	} else {
		e.Render = devs
	}
}

// ─── GraphFactory ─────────────────────────────────────────────────────────────

// GraphFactory is a mock implementation of [audio.GraphFactory]. Every graph
// it creates inherits the factory's node error fields at creation time.
type GraphFactory struct {
	mu sync.Mutex

	// CreateError is returned by CreateGraph when non-nil.
	CreateError error

	// CaptureError, RenderError, FileWriterError and FileReaderError are
	// copied into each new [Graph].
	CaptureError    error
	RenderError     error
	FileWriterError error
	FileReaderError error

	// Graphs records every graph created, in order.
	Graphs []*Graph

	// Outputs records the output device passed to each CreateGraph call.
	Outputs []*audio.Device
}

// CreateGraph implements [audio.GraphFactory].
func (f *GraphFactory) CreateGraph(_ context.Context, _ audio.RenderCategory, output *audio.Device) (audio.Graph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Outputs = append(f.Outputs, output)
	if f.CreateError != nil {
		return nil, f.CreateError
	}
	g := &Graph{
		Output:          output,
		CaptureError:    f.CaptureError,
		RenderError:     f.RenderError,
		FileWriterError: f.FileWriterError,
		FileReaderError: f.FileReaderError,
	}
	f.Graphs = append(f.Graphs, g)
	return g, nil
}

// LastGraph returns the most recently created graph, or nil.
func (f *GraphFactory) LastGraph() *Graph {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Graphs) == 0 {
		return nil
	}
	return f.Graphs[len(f.Graphs)-1]
}

// AllGraphs returns a snapshot of every graph created so far.
func (f *GraphFactory) AllGraphs() []*Graph {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Graphs)
}

// ─── Graph ────────────────────────────────────────────────────────────────────

// Kind labels the node types created by [Graph].
type Kind string

const (
	KindCapture    Kind = "capture"
	KindRender     Kind = "render"
	KindFileWriter Kind = "file-writer"
	KindFileReader Kind = "file-reader"
	KindMonitorTap Kind = "monitor-tap"
)

// Graph is a mock implementation of [audio.Graph]. Blocks are delivered only
// when the test calls [Graph.Deliver].
type Graph struct {
	mu sync.Mutex

	// Output is the device the graph was created for.
	Output *audio.Device

	CaptureError    error
	RenderError     error
	FileWriterError error
	FileReaderError error

	// Nodes records every node created by the graph, in order.
	Nodes []*Node

	observer func(audio.Block)
	started  bool
	closed   bool

	CallCountStart int
	CallCountStop  int
}

func (g *Graph) newNode(kind Kind, f audio.File) *Node {
	n := &Node{Kind: kind, File: f, done: make(chan struct{})}
	g.Nodes = append(g.Nodes, n)
	return n
}

// CreateCaptureNode implements [audio.Graph].
func (g *Graph) CreateCaptureNode(_ context.Context, _ audio.MediaCategory, format audio.Format, dev *audio.Device) (audio.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CaptureError != nil {
		return nil, g.CaptureError
	}
	n := g.newNode(KindCapture, nil)
	n.Format = format
	n.Device = dev
	return n, nil
}

// CreateRenderNode implements [audio.Graph].
func (g *Graph) CreateRenderNode(context.Context) (audio.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RenderError != nil {
		return nil, g.RenderError
	}
	n := g.newNode(KindRender, nil)
	n.Device = g.Output
	return n, nil
}

// CreateFileWriterNode implements [audio.Graph]. The node takes ownership of
// f and closes it on Close.
func (g *Graph) CreateFileWriterNode(_ context.Context, f audio.File, profile audio.EncodingProfile) (audio.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FileWriterError != nil {
		return nil, g.FileWriterError
	}
	n := g.newNode(KindFileWriter, f)
	n.Format = profile.Format
	return n, nil
}

// CreateFileReaderNode implements [audio.Graph].
func (g *Graph) CreateFileReaderNode(_ context.Context, f audio.File) (audio.SourceNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FileReaderError != nil {
		return nil, g.FileReaderError
	}
	return g.newNode(KindFileReader, f), nil
}

// CreateMonitorTap implements [audio.Graph].
func (g *Graph) CreateMonitorTap() audio.Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.newNode(KindMonitorTap, nil)
}

// OnBlock implements [audio.Graph].
func (g *Graph) OnBlock(cb func(audio.Block)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observer = cb
}

// HasObserver reports whether a block observer is registered.
func (g *Graph) HasObserver() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.observer != nil
}

// Deliver invokes the registered block observer with b, synchronously, and
// reports whether an observer was registered. Blocks are delivered even
// when the graph is stopped so tests can drive the observer directly.
func (g *Graph) Deliver(b audio.Block) bool {
	g.mu.Lock()
	cb := g.observer
	g.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(b)
	return true
}

// Start implements [audio.Graph].
func (g *Graph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CallCountStart++
	g.started = true
	return nil
}

// Stop implements [audio.Graph].
func (g *Graph) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CallCountStop++
	g.started = false
	return nil
}

// Started reports whether the graph is scheduling quanta.
func (g *Graph) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Close implements [audio.Graph]. It closes every node the graph created.
func (g *Graph) Close() error {
	g.mu.Lock()
	g.closed = true
	g.started = false
	g.observer = nil
	nodes := slices.Clone(g.Nodes)
	g.mu.Unlock()
	for _, n := range nodes {
		_ = n.Close()
	}
	return nil
}

// Closed reports whether Close was called.
func (g *Graph) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// NodesOf returns the nodes of the given kind, in creation order.
func (g *Graph) NodesOf(kind Kind) []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// OpenNodes returns the nodes that have not been closed.
func (g *Graph) OpenNodes() []*Node {
	g.mu.Lock()
	nodes := slices.Clone(g.Nodes)
	g.mu.Unlock()
	var out []*Node
	for _, n := range nodes {
		if !n.Closed() {
			out = append(out, n)
		}
	}
	return out
}

// ─── Node ─────────────────────────────────────────────────────────────────────

// Node is a mock implementation of [audio.SourceNode].
type Node struct {
	mu sync.Mutex

	// Kind is the creation method that produced the node.
	Kind Kind

	// File is the file handed to a file writer or reader node.
	File audio.File

	// Format is the capture format or the encoding profile format.
	Format audio.Format

	// Device is the device bound to a capture or render node.
	Device *audio.Device

	sinks    []*Node
	running  bool
	closed   bool
	done     chan struct{}
	doneOnce sync.Once

	CallCountStart int
	CallCountStop  int
}

// Attach implements [audio.Node].
func (n *Node) Attach(sink audio.Node) error {
	s := sink.(*Node)
	n.mu.Lock()
	defer n.mu.Unlock()
	if !slices.Contains(n.sinks, s) {
		n.sinks = append(n.sinks, s)
	}
	return nil
}

// Detach implements [audio.Node].
func (n *Node) Detach(sink audio.Node) error {
	s := sink.(*Node)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = slices.DeleteFunc(n.sinks, func(x *Node) bool { return x == s })
	return nil
}

// Sinks returns the nodes currently attached to n.
func (n *Node) Sinks() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sinks)
}

// IsAttached reports whether sink is attached to n.
func (n *Node) IsAttached(sink *Node) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.sinks, sink)
}

// Start implements [audio.Node].
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.CallCountStart++
	n.running = true
	return nil
}

// Stop implements [audio.Node].
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.CallCountStop++
	n.running = false
	return nil
}

// Running reports whether the node was started and not stopped since.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Close implements [audio.Node]. It closes the node's file, if any.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.running = false
	n.sinks = nil
	f := n.File
	n.mu.Unlock()
	n.Finish()
	if f != nil {
		return f.Close()
	}
	return nil
}

// Closed reports whether Close was called.
func (n *Node) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Done implements [audio.SourceNode].
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Finish closes the Done channel, simulating the end of a file reader's
// stream.
func (n *Node) Finish() {
	n.doneOnce.Do(func() { close(n.done) })
}

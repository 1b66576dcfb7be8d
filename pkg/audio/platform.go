// Package audio defines the interfaces and types the recorder uses to talk to
// the host audio subsystem.
//
// The abstractions mirror a node-graph audio runtime:
//
//   - [Enumerator] lists capture and render devices.
//   - [GraphFactory] creates a [Graph] bound to a primary render device.
//   - [Graph] creates [Node] values (capture, render, file writer, file
//     reader, monitor tap), schedules them, and reports every processed
//     quantum to a single [Block] observer.
//
// Backends live in sub-packages (e.g. audio/malgo). The interfaces are kept
// narrow so the recorder core can be exercised with the in-memory doubles in
// audio/mock.
//
// This package lives under pkg/ because external code is expected to provide
// alternative backends.
package audio

import (
	"context"
	"io"
)

// Enumerator discovers audio devices.
//
// Implementations must be safe for concurrent use.
type Enumerator interface {
	// ListDevices returns all devices of the given direction in the order the
	// platform reports them. An empty slice with a nil error is valid.
	ListDevices(ctx context.Context, dir Direction) ([]Device, error)
}

// GraphFactory creates audio graphs.
type GraphFactory interface {
	// CreateGraph builds an empty graph whose render nodes play through
	// output. output may be nil to use the system default device.
	CreateGraph(ctx context.Context, category RenderCategory, output *Device) (Graph, error)
}

// File is an open file in the recordings folder. File writer nodes need to
// seek back to patch container headers, hence the Seeker.
type File interface {
	io.ReadWriteSeeker
	io.Closer

	// Name returns the base name of the file inside its folder.
	Name() string
}

// Node is a vertex in a [Graph]. Audio flows from a node to every sink it is
// attached to.
//
// A node created by a graph is owned by the caller until it is closed. Close
// detaches the node from the graph and releases backend resources (devices,
// open files). Calling Close more than once is safe.
type Node interface {
	// Attach adds sink as an outgoing connection. Attaching the same sink twice
	// is a no-op.
	Attach(sink Node) error

	// Detach removes sink from the outgoing connections. Detaching a sink
	// that is not attached is a no-op.
	Detach(sink Node) error

	// Start resumes the node. For file writers this resumes writing; for file
	// readers it begins playback.
	Start() error

	// Stop pauses the node without releasing it.
	Stop() error

	Close() error
}

// SourceNode is a node that produces a finite stream, such as a file reader.
type SourceNode interface {
	Node

	// Done is closed once the source has emitted all of its audio or has been
	// closed.
	Done() <-chan struct{}
}

// Graph is a scheduled set of audio nodes sharing one clock.
//
// Node creation methods are called from a control goroutine. Block delivery
// happens on a backend-owned goroutine.
type Graph interface {
	// CreateCaptureNode opens dev with the given format.
	CreateCaptureNode(ctx context.Context, category MediaCategory, format Format, dev *Device) (Node, error)

	// CreateRenderNode opens the graph's primary render device.
	CreateRenderNode(ctx context.Context) (Node, error)

	// CreateFileWriterNode returns a node that encodes incoming audio into f.
	// The node owns f and closes it on Close.
	CreateFileWriterNode(ctx context.Context, f File, profile EncodingProfile) (Node, error)

	// CreateFileReaderNode returns a node that decodes f and emits it to its
	// sinks once started. The node owns f and closes it on Close.
	CreateFileReaderNode(ctx context.Context, f File) (SourceNode, error)

	// CreateMonitorTap returns a sink whose input is reported to the block
	// observer once per processed quantum.
	CreateMonitorTap() Node

	// OnBlock registers cb as the block observer. Only one observer may be
	// registered; subsequent calls replace it and a nil cb unregisters. Once
	// OnBlock(nil) returns, the previous observer is not invoked again.
	OnBlock(cb func(Block))

	// Start begins quantum scheduling.
	Start() error

	// Stop suspends quantum scheduling.
	Stop() error

	// Close stops the graph and closes every node it still owns.
	Close() error
}

package recorder

import (
	"errors"
	"fmt"
)

// Sentinel errors. Errors returned by this package wrap one of these, so
// callers classify failures with [errors.Is].
var (
	ErrDeviceEnumeration      = errors.New("recorder: device enumeration failed")
	ErrGraphCreation          = errors.New("recorder: audio graph creation failed")
	ErrNodeCreation           = errors.New("recorder: audio node creation failed")
	ErrFileRename             = errors.New("recorder: recording rename failed")
	ErrFileNotFound           = errors.New("recorder: recording not found")
	ErrInvalidDeviceSelection = errors.New("recorder: invalid device selection")
	ErrNotConfigured          = errors.New("recorder: pipeline not configured")
)

// NodeKind names the graph node whose creation failed.
type NodeKind string

const (
	NodeCapture    NodeKind = "capture"
	NodeRender     NodeKind = "render"
	NodeFileWriter NodeKind = "file-writer"
	NodeFileReader NodeKind = "file-reader"
)

// NodeError reports a failed node creation. It matches [ErrNodeCreation] as
// well as the underlying backend error.
type NodeError struct {
	Kind NodeKind
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("recorder: create %s node: %v", e.Kind, e.Err)
}

func (e *NodeError) Unwrap() []error {
	return []error{ErrNodeCreation, e.Err}
}

// RenameError reports a recording that could not be moved to its canonical
// name. The audio is still available under From.
type RenameError struct {
	From string
	To   string
	Err  error
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("recorder: rename %q to %q: %v", e.From, e.To, e.Err)
}

func (e *RenameError) Unwrap() []error {
	return []error{ErrFileRename, e.Err}
}

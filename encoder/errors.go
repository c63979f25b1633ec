package encoder

import "fmt"

// NotSerializableError reports a value shape the wire format cannot carry.
// It is scoped to the node where it occurred: the session converts it into
// an error chunk and keeps encoding siblings.
type NotSerializableError struct {
	Reason string
}

func (e *NotSerializableError) Error() string {
	return fmt.Sprintf("encoder: not serializable: %s", e.Reason)
}

// RenderError reports a failed render attempt for a node.
type RenderError struct {
	Node string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("encoder: render of %q failed: %v", e.Node, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// PendingError reports a pending value that completed with a failure.
type PendingError struct {
	Err error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("encoder: pending value failed: %v", e.Err)
}

func (e *PendingError) Unwrap() error { return e.Err }

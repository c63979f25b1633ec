package decoder

import (
	"fmt"

	"github.com/hanpama/treewire/wire"
)

// ProtocolViolationError reports a row stream that is no longer
// trustworthy: a terminal row for an already-terminal id, a duplicate
// blocked declaration, or a reference to an id never declared. It is fatal
// to the session; every later Feed returns the same violation.
type ProtocolViolationError struct {
	Chunk wire.ChunkID
	Msg   string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("decoder: protocol violation at chunk %d: %s", e.Chunk, e.Msg)
}

// ChunkError is the sanitized failure delivered for a failed chunk. The
// sink consumer decides whether to recover locally or propagate it up its
// own boundary hierarchy.
type ChunkError struct {
	// Message is the full error detail; empty in non-debug delivery.
	Message string
	// Digest is the opaque fingerprint of the detail.
	Digest string
}

func (e *ChunkError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("decoder: chunk failed: %s", e.Message)
	}
	return fmt.Sprintf("decoder: chunk failed (digest %s)", e.Digest)
}

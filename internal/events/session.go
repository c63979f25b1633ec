// Package events defines the event structs published on the bus by encode
// sessions, decode tables, and transports.
package events

import "time"

// EncodeStart is emitted when an encode session begins its root walk.
type EncodeStart struct {
	Session int64
}

// EncodeFinish is emitted when the root walk returns. Suspended subtrees
// may still resolve after this event.
type EncodeFinish struct {
	Session  int64
	Rows     int
	Duration time.Duration
	Err      error
}

// RowEmitted is emitted for every row written to the session sink.
type RowEmitted struct {
	Session int64
	Chunk   int64
	Tag     string
}

// RenderStart is emitted before invoking the render capability.
type RenderStart struct {
	Session int64
	Node    string
}

// RenderFinish is emitted when a render attempt returns, including repeat
// attempts after a suspension signal fires.
type RenderFinish struct {
	Session  int64
	Node     string
	Outcome  string
	Duration time.Duration
}

// DecodeFeed is emitted after a decode table processes one row.
type DecodeFeed struct {
	Session int64
	Chunk   int64
	Tag     string
	State   string
}

package events

import "time"

// StreamStart is emitted when a row stream is opened over a remote
// transport.
type StreamStart struct {
	Method string
	Target string
}

// StreamFinish is emitted when a row stream ends.
type StreamFinish struct {
	Method   string
	Target   string
	Rows     int
	Err      error
	Duration time.Duration
}

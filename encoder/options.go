package encoder

import "go.uber.org/zap"

// Options configures an encode session.
//
// Defaults:
// - Debug:     false (error rows carry only an opaque digest)
// - MaxInline: 0 (no size-based chunking)
// - Logger:    zap.NewNop()
type Options struct {
	// Debug includes full error detail in error row payloads. Leave off
	// when the sink is untrusted.
	Debug bool

	// MaxInline breaks sequences and mappings whose encoded payload
	// exceeds this many bytes into their own value chunk, referenced by
	// id from the parent. 0 disables size-based chunking.
	MaxInline int

	Logger *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{Logger: zap.NewNop()}
}

func WithDebug() Option               { return func(o *Options) { o.Debug = true } }
func WithMaxInline(n int) Option      { return func(o *Options) { o.MaxInline = n } }
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

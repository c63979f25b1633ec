package grpctp

import (
	"time"

	"google.golang.org/grpc"
)

// Options configures the gRPC row transport.
//
// Defaults:
// - StreamTimeout: 0 (streams live until the session ends)
// - DialOptions:   insecure credentials with default backoff
// - ServerOptions: none
//
// All options are safe to leave zero-valued to use defaults.
type Options struct {
	// StreamTimeout bounds an entire Subscribe stream when the caller's
	// context has no deadline. 0 means unbounded.
	StreamTimeout time.Duration

	DialOptions   []grpc.DialOption
	ServerOptions []grpc.ServerOption
}

// Option mutates Options.
//
// Use WithX helpers below.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{}
}

func WithStreamTimeout(d time.Duration) Option { return func(o *Options) { o.StreamTimeout = d } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(o *Options) { o.ServerOptions = opts }
}

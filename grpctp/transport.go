// Package grpctp carries the row stream between processes over gRPC. Rows
// travel as structpb messages on a server-streaming Subscribe call: the
// source side serves encode sessions, the sink side reads rows and feeds
// its decode table. The service is registered by hand; no generated code.
package grpctp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/treewire/internal/eventbus"
	"github.com/hanpama/treewire/internal/events"
	"github.com/hanpama/treewire/internal/sessionid"
	"github.com/hanpama/treewire/transport"
	"github.com/hanpama/treewire/wire"
)

const (
	serviceName         = "treewire.RowStream"
	subscribeFullMethod = "/treewire.RowStream/Subscribe"
)

// rowStreamService is the service contract point for grpc.RegisterService.
type rowStreamService interface{}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*rowStreamService)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "treewire/rowstream",
}

// SessionHandler runs one encode session for a Subscribe request, writing
// rows to send. params is the request payload as plain Go values. The
// stream closes when the handler returns, so handlers that suspend must
// wait for their terminal rows before returning.
type SessionHandler func(ctx context.Context, params map[string]any, send transport.RowWriter) error

// Server serves encode sessions to subscribing sinks.
type Server struct {
	opts    *Options
	handler SessionHandler
	grpc    *grpc.Server
}

func NewServer(handler SessionHandler, opts ...Option) *Server {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	s := &Server{opts: o, handler: handler}
	gs := grpc.NewServer(o.ServerOptions...)
	gs.RegisterService(&serviceDesc, s)
	s.grpc = gs
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop drains in-flight streams and shuts the server down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	ctx, _ := sessionid.NewContext(stream.Context())
	start := time.Now()
	eventbus.Publish(ctx, events.StreamStart{Method: subscribeFullMethod})
	sink := &streamSink{stream: stream}
	err := s.handler(ctx, req.AsMap(), sink)
	eventbus.Publish(ctx, events.StreamFinish{
		Method:   subscribeFullMethod,
		Rows:     sink.Rows(),
		Err:      err,
		Duration: time.Since(start),
	})
	return err
}

// streamSink adapts a server stream to the row writer contract. Sends are
// serialized: the encode walk and its resumptions may write concurrently.
type streamSink struct {
	mu     sync.Mutex
	stream grpc.ServerStream
	rows   int
}

var _ transport.RowWriter = (*streamSink)(nil)

func (s *streamSink) WriteRow(row wire.Row) error {
	msg, err := rowToStruct(row)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stream.SendMsg(msg); err != nil {
		return err
	}
	s.rows++
	return nil
}

func (s *streamSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Client subscribes to row streams served by a Server.
type Client struct {
	opts   *Options
	target string
	cc     *grpc.ClientConn
}

// Dial connects to target. Without explicit dial options the connection is
// insecure with default backoff.
func Dial(target string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	dialOpts := o.DialOptions
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpctp: dial %s: %w", target, err)
	}
	return &Client{opts: o, target: target, cc: cc}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

// Subscribe opens a row stream for one session. params reaches the server's
// SessionHandler. The returned stream yields rows until the session ends.
func (c *Client) Subscribe(ctx context.Context, params map[string]any) (*RowStream, error) {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok && c.opts.StreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.StreamTimeout)
	}
	if params == nil {
		params = map[string]any{}
	}
	req, err := structpb.NewStruct(params)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grpctp: pack request: %w", err)
	}
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], subscribeFullMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grpctp: open stream: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, fmt.Errorf("grpctp: send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("grpctp: close send: %w", err)
	}
	eventbus.Publish(ctx, events.StreamStart{Method: subscribeFullMethod, Target: c.target})
	return &RowStream{stream: stream, target: c.target, start: time.Now(), cancel: cancel}, nil
}

// RowStream is the client side of one Subscribe call. It satisfies
// transport.RowReader, so it pumps directly into a decode table.
type RowStream struct {
	stream grpc.ClientStream
	target string
	start  time.Time
	cancel context.CancelFunc
	rows   int
	done   bool
}

var _ transport.RowReader = (*RowStream)(nil)

func (rs *RowStream) ReadRow() (wire.Row, error) {
	msg := new(structpb.Struct)
	if err := rs.stream.RecvMsg(msg); err != nil {
		rs.finish(err)
		return wire.Row{}, err
	}
	row, err := rowFromStruct(msg)
	if err != nil {
		rs.finish(err)
		return wire.Row{}, err
	}
	rs.rows++
	return row, nil
}

// Close abandons the stream before end of session.
func (rs *RowStream) Close() error {
	rs.finish(nil)
	return nil
}

func (rs *RowStream) finish(err error) {
	if rs.done {
		return
	}
	rs.done = true
	rs.cancel()
	if err == io.EOF {
		err = nil
	}
	eventbus.Publish(rs.stream.Context(), events.StreamFinish{
		Method:   subscribeFullMethod,
		Target:   rs.target,
		Rows:     rs.rows,
		Err:      err,
		Duration: time.Since(rs.start),
	})
}

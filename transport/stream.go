package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/hanpama/treewire/wire"
)

// Options configures the framed stream transport.
//
// Defaults:
// - Compression: off
// - Logger:      zap.NewNop()
//
// Both ends of a stream must agree on codec and compression.
type Options struct {
	// Compression wraps the byte stream in zstd.
	Compression bool

	Logger *zap.Logger
}

type Option func(*Options)

func WithCompression() Option         { return func(o *Options) { o.Compression = true } }
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

func streamOptions(opts []Option) *Options {
	o := &Options{Logger: zap.NewNop()}
	for _, f := range opts {
		f(o)
	}
	return o
}

// StreamWriter frames codec-marshaled rows with a uvarint length prefix.
// Each row is flushed as it is written so the reading side sees rows as
// they are emitted, not at stream close.
type StreamWriter struct {
	mu    sync.Mutex
	codec wire.Codec
	dst   io.Writer
	z     *zstd.Encoder
	log   *zap.Logger
}

var _ RowWriter = (*StreamWriter)(nil)

func NewStreamWriter(w io.Writer, codec wire.Codec, opts ...Option) (*StreamWriter, error) {
	o := streamOptions(opts)
	sw := &StreamWriter{codec: codec, dst: w, log: o.Logger}
	if o.Compression {
		z, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("transport: zstd writer: %w", err)
		}
		sw.z = z
		sw.dst = z
	}
	return sw, nil
}

func (sw *StreamWriter) WriteRow(row wire.Row) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	data, err := sw.codec.Marshal(row)
	if err != nil {
		return fmt.Errorf("transport: marshal row %d: %w", row.ID, err)
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	if _, err := sw.dst.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	if _, err := sw.dst.Write(data); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	if sw.z != nil {
		if err := sw.z.Flush(); err != nil {
			return fmt.Errorf("transport: flush: %w", err)
		}
	}
	sw.log.Debug("row framed", zap.Int64("chunk", int64(row.ID)), zap.Int("bytes", n+len(data)))
	return nil
}

// Close flushes and releases the compressor. The underlying writer is not
// closed.
func (sw *StreamWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.z != nil {
		return sw.z.Close()
	}
	return nil
}

// StreamReader reads frames produced by StreamWriter.
type StreamReader struct {
	codec wire.Codec
	br    io.ByteReader
	src   io.Reader
	z     *zstd.Decoder
}

var _ RowReader = (*StreamReader)(nil)

func NewStreamReader(r io.Reader, codec wire.Codec, opts ...Option) (*StreamReader, error) {
	o := streamOptions(opts)
	sr := &StreamReader{codec: codec}
	src := r
	if o.Compression {
		z, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("transport: zstd reader: %w", err)
		}
		sr.z = z
		src = z
	}
	br := bufferedReader(src)
	sr.br = br
	sr.src = br
	return sr, nil
}

func (sr *StreamReader) ReadRow() (wire.Row, error) {
	size, err := binary.ReadUvarint(sr.br)
	if err != nil {
		return wire.Row{}, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(sr.src, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return wire.Row{}, fmt.Errorf("transport: read frame: %w", err)
	}
	return sr.codec.Unmarshal(buf)
}

// Close releases the decompressor, if any.
func (sr *StreamReader) Close() error {
	if sr.z != nil {
		sr.z.Close()
	}
	return nil
}

func bufferedReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// Package transport moves rows between the two sides of a session: framed
// byte streams for pipes and files, and a pump that drains a reader into a
// decode table. The gRPC transport lives in package grpctp.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/hanpama/treewire/wire"
)

// RowWriter accepts rows in emission order. encoder.Session writes through
// this contract.
type RowWriter interface {
	WriteRow(row wire.Row) error
}

// RowReader yields rows in arrival order, returning io.EOF when the stream
// is exhausted.
type RowReader interface {
	ReadRow() (wire.Row, error)
}

// RowHandler consumes fed rows; decoder.Table satisfies it.
type RowHandler interface {
	Feed(ctx context.Context, row wire.Row) error
}

// Pump drains r into h until end of stream, ctx cancellation, or the first
// error from either side.
func Pump(ctx context.Context, r RowReader, h RowHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.ReadRow()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := h.Feed(ctx, row); err != nil {
			return err
		}
	}
}

package grpctp

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/treewire/wire"
)

// ErrMalformedRow indicates a stream message that does not decode to a row.
var ErrMalformedRow = errors.New("grpctp: malformed row message")

// rowToStruct packs a row into the structpb well-known type. Struct values
// have JSON semantics, so integer payloads arrive as float64 on the other
// side; the decoder's scalar normalization accepts that form.
func rowToStruct(row wire.Row) (*structpb.Struct, error) {
	fields := map[string]any{
		"id":  int64(row.ID),
		"tag": string(row.Tag),
	}
	if row.Payload != nil {
		fields["payload"] = row.Payload
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("grpctp: pack row %d: %w", row.ID, err)
	}
	return s, nil
}

func rowFromStruct(s *structpb.Struct) (wire.Row, error) {
	m := s.AsMap()
	id, ok := wire.AsInt(m["id"])
	if !ok {
		return wire.Row{}, fmt.Errorf("%w: missing id", ErrMalformedRow)
	}
	tag, ok := m["tag"].(string)
	if !ok {
		return wire.Row{}, fmt.Errorf("%w: missing tag", ErrMalformedRow)
	}
	return wire.Row{ID: wire.ChunkID(id), Tag: wire.Tag(tag), Payload: m["payload"]}, nil
}

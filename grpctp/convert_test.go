package grpctp

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/treewire/wire"
)

func TestRowStructRoundtrip(t *testing.T) {
	row := wire.Row{ID: 3, Tag: wire.TagValue, Payload: map[string]any{
		"s":   "x",
		"n":   int64(42),
		"seq": []any{"a", true},
		"ref": wire.Ref(1),
	}}

	msg, err := rowToStruct(row)
	require.NoError(t, err)
	got, err := rowFromStruct(msg)
	require.NoError(t, err)

	require.Equal(t, row.ID, got.ID)
	require.Equal(t, row.Tag, got.Tag)

	// Struct values carry JSON number semantics, so integers come back as
	// float64; the marker recognizers accept that form.
	payload := got.Payload.(map[string]any)
	n, ok := wire.AsInt(payload["n"])
	require.True(t, ok)
	require.Equal(t, int64(42), n)
	id, ok := wire.AsRef(payload["ref"])
	require.True(t, ok)
	require.Equal(t, wire.ChunkID(1), id)
}

func TestRowStructBlocked(t *testing.T) {
	msg, err := rowToStruct(wire.Row{ID: 7, Tag: wire.TagBlocked})
	require.NoError(t, err)
	got, err := rowFromStruct(msg)
	require.NoError(t, err)
	require.Equal(t, wire.ChunkID(7), got.ID)
	require.Equal(t, wire.TagBlocked, got.Tag)
	require.Nil(t, got.Payload)
}

func TestRowFromStructMalformed(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		msg, err := structpb.NewStruct(map[string]any{"tag": "value"})
		require.NoError(t, err)
		_, err = rowFromStruct(msg)
		require.ErrorIs(t, err, ErrMalformedRow)
	})
	t.Run("missing tag", func(t *testing.T) {
		msg, err := structpb.NewStruct(map[string]any{"id": 1})
		require.NoError(t, err)
		_, err = rowFromStruct(msg)
		require.ErrorIs(t, err, ErrMalformedRow)
	})
}

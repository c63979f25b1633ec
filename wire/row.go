// Package wire defines the chunk-addressed row format shared by the encoder
// and decoder: row shapes, the special payload markers, and the codecs that
// carry rows over a byte transport.
package wire

// ChunkID addresses one chunk of the stream. IDs are assigned monotonically
// in first-discovery order by the encoder and are never reused.
type ChunkID int64

// Tag classifies a row.
type Tag string

const (
	// TagBlocked declares an id whose value is not yet available.
	TagBlocked Tag = "blocked"
	// TagValue is the terminal resolution of an id.
	TagValue Tag = "value"
	// TagError is the terminal failure of an id.
	TagError Tag = "error"
	// TagRoot is the terminal resolution of the model root chunk.
	TagRoot Tag = "model-root"
)

// Terminal reports whether the tag ends its id's lifecycle.
func (t Tag) Terminal() bool {
	return t == TagValue || t == TagError || t == TagRoot
}

// Row is the wire unit. Payload is a structural JSON-compatible value:
// scalars, []any, and map[string]any, possibly containing the markers
// defined in this package. Blocked rows carry no payload.
type Row struct {
	ID      ChunkID `json:"id" cbor:"id"`
	Tag     Tag     `json:"tag" cbor:"tag"`
	Payload any     `json:"payload,omitempty" cbor:"payload,omitempty"`
}

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec marshals rows to and from transport bytes. Both ends of a session
// must agree on the codec.
type Codec interface {
	Marshal(row Row) ([]byte, error)
	Unmarshal(data []byte) (Row, error)
	Name() string
}

// JSONCodec carries rows as JSON objects. Decoding preserves integer
// fidelity by reading numbers as json.Number; AsInt and the decoder's
// scalar normalization accept that form.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(row Row) ([]byte, error) {
	return json.Marshal(row)
}

func (JSONCodec) Unmarshal(data []byte) (Row, error) {
	var row Row
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&row); err != nil {
		return Row{}, fmt.Errorf("wire: decode json row: %w", err)
	}
	return row, nil
}

// CBORCodec carries rows as canonical CBOR, giving byte-identical output
// for identical rows regardless of map construction order.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (*CBORCodec, error) {
	encOpts := cbor.CanonicalEncOptions()
	enc, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("wire: cbor enc mode: %w", err)
	}
	decOpts := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	dec, err := decOpts.DecMode()
	if err != nil {
		return nil, fmt.Errorf("wire: cbor dec mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Marshal(row Row) ([]byte, error) {
	return c.enc.Marshal(row)
}

func (c *CBORCodec) Unmarshal(data []byte) (Row, error) {
	var row Row
	if err := c.dec.Unmarshal(data, &row); err != nil {
		return Row{}, fmt.Errorf("wire: decode cbor row: %w", err)
	}
	return row, nil
}

package wire

import "encoding/json"

// JSONCodec is the lightweight fallback wire format. It trades the exact
// type fidelity of MessagePack (no distinct bin/ext types, no int/float
// distinction beyond what encoding/json's float64 default gives) for
// dependency-free interoperability with tooling that only speaks JSON.
type JSONCodec struct{}

// NewJSONCodec returns a ready-to-use JSONCodec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements Codec.
func (c *JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode implements Codec.
func (c *JSONCodec) Decode(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}

// Format implements Codec.
func (c *JSONCodec) Format() Format {
	return FormatJSON
}

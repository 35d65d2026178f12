package wire

import "github.com/vmihailenco/msgpack/v5"

// FloatPrecision selects how the MsgPackCodec writes floating-point values
// on encode, mirroring umsgpack.py's auto-detected _float_precision plus its
// force_float_precision override (original_source's client/umsgpack.py):
// the embedded MicroPython peer this protocol was built for may only
// support single-precision floats, so a deployment needs to be able to pin
// the wire representation rather than rely on Go's native float64.
type FloatPrecision string

const (
	// DoublePrecision writes floats as 8-byte float64 (msgpack tag 0xcb).
	// It is the default, matching Go's native float precision.
	DoublePrecision FloatPrecision = "double"
	// SinglePrecision narrows every float64 value to float32 before
	// encoding (msgpack tag 0xca), for peers that only speak single
	// precision.
	SinglePrecision FloatPrecision = "single"
)

// MsgPackCodec encodes RPC payloads using the MessagePack common types
// (nil, bool, int, float, str, bin, array, map) plus any ext types
// registered through RegisterExt. Struct values encode as maps by field
// name so the wire representation stays self-describing across builds.
type MsgPackCodec struct {
	precision FloatPrecision
}

// MsgPackOption configures a MsgPackCodec.
type MsgPackOption func(*MsgPackCodec)

// WithFloatPrecision overrides the float precision MsgPackCodec.Encode
// writes to the wire. The default, DoublePrecision, matches Go's native
// float precision; pass SinglePrecision to narrow every float64 in the
// payload to float32 first.
func WithFloatPrecision(p FloatPrecision) MsgPackOption {
	return func(c *MsgPackCodec) { c.precision = p }
}

// NewMsgPackCodec returns a ready-to-use MsgPackCodec. With no options it
// writes floats at double precision.
func NewMsgPackCodec(opts ...MsgPackOption) *MsgPackCodec {
	c := &MsgPackCodec{precision: DoublePrecision}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode implements Codec.
func (c *MsgPackCodec) Encode(v interface{}) ([]byte, error) {
	if c.precision == SinglePrecision {
		v = narrowFloats(v)
	}
	return msgpack.Marshal(v)
}

// Decode implements Codec.
func (c *MsgPackCodec) Decode(b []byte, v interface{}) error {
	return msgpack.Unmarshal(b, v)
}

// Format implements Codec.
func (c *MsgPackCodec) Format() Format {
	return FormatMsgPack
}

// narrowFloats walks the untyped RPC tuple shapes this protocol actually
// puts on the wire (the id/method/args/kwargs and id/success/payload tuples
// built by rpcwire, or values decoded back off it) and returns a copy with
// every float64 converted to float32, so Encode's call to msgpack.Marshal
// writes the single-precision tag instead of double. Values of any other
// concrete type, including application types registered via RegisterExt,
// pass through unchanged: their own encoder, not this walk, is responsible
// for their wire representation.
func narrowFloats(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		return float32(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = narrowFloats(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = narrowFloats(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[interface{}]interface{}, len(val))
		for k, e := range val {
			out[narrowFloats(k)] = narrowFloats(e)
		}
		return out
	default:
		return v
	}
}

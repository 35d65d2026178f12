// Package wire implements the byte-serialization codec (C3) for RPC
// payloads: MessagePack by default, with a JSON fallback for lightweight
// deployments. Both codecs encode the same logical RPC tuples, so the rest
// of the system only ever depends on the Codec interface.
package wire

import "fmt"

// Format selects which Codec NewCodec returns.
type Format string

const (
	// FormatMsgPack is the preferred wire format.
	FormatMsgPack Format = "msgpack"
	// FormatJSON is the fallback wire format for lightweight deployments.
	FormatJSON Format = "json"
)

// Codec encodes and decodes RPC payloads to and from their wire
// representation. Implementations must be safe for concurrent Encode calls
// and concurrent Decode calls (the session framing layer already serializes
// sends, but decoding of independently-received frames may run in
// parallel).
type Codec interface {
	// Encode serializes v to its wire representation.
	Encode(v interface{}) ([]byte, error)
	// Decode deserializes b into v, which must be a pointer.
	Decode(b []byte, v interface{}) error
	// Format reports which wire format this codec implements.
	Format() Format
}

// NewCodec returns the Codec for the given format. msgpackOpts configure the
// MessagePack codec (e.g. WithFloatPrecision) and are ignored for JSON.
func NewCodec(f Format, msgpackOpts ...MsgPackOption) (Codec, error) {
	switch f {
	case FormatMsgPack, "":
		return NewMsgPackCodec(msgpackOpts...), nil
	case FormatJSON:
		return NewJSONCodec(), nil
	default:
		return nil, fmt.Errorf("wire: unknown format %q", f)
	}
}

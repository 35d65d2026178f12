package wire

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// ExtEncodeFunc packs a registered application value into raw ext bytes.
type ExtEncodeFunc func(v interface{}) ([]byte, error)

// ExtDecodeFunc unpacks raw ext bytes back into an application value.
type ExtDecodeFunc func(data []byte) (interface{}, error)

// RegisterExt associates a MessagePack ext type tag (-128..127) with a Go
// type and its pack/unpack functions, mirroring the Ext hook registry in
// the original umsgpack implementation: application types that don't map
// onto a MessagePack common type (tuples, sets, complex numbers, or a
// project's own wire-visible structs) travel as ext bytes instead of being
// rejected or silently coerced.
//
// sample must be a zero value of the Go type the tag applies to; it is
// only used to select the type, never encoded itself. RegisterExt is not
// safe to call concurrently with encoding/decoding and is meant to be
// called during program setup, before any Codec is used.
func RegisterExt(tag int8, sample interface{}, pack ExtEncodeFunc, unpack ExtDecodeFunc) {
	msgpack.RegisterExtEncoder(tag, sample, func(e *msgpack.Encoder, v reflect.Value) ([]byte, error) {
		return pack(v.Interface())
	})
	msgpack.RegisterExtDecoder(tag, sample, func(d *msgpack.Decoder, v reflect.Value, extLen int) error {
		data := make([]byte, extLen)
		if err := d.ReadFull(data); err != nil {
			return fmt.Errorf("wire: reading ext %d payload: %w", tag, err)
		}
		decoded, err := unpack(data)
		if err != nil {
			return fmt.Errorf("wire: decoding ext %d: %w", tag, err)
		}
		dv := reflect.ValueOf(decoded)
		if !dv.Type().AssignableTo(v.Type()) {
			return fmt.Errorf("wire: ext %d decoder returned %s, want %s", tag, dv.Type(), v.Type())
		}
		v.Set(dv)
		return nil
	})
}

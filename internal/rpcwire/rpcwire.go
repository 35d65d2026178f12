// Package rpcwire encodes and decodes the RPC request/response tuples
// (spec §3) shared by the server and the client. Both are plain
// heterogeneous arrays on the wire — [id, method, args, kwargs] and
// [id, success, payload] — rather than keyed structs, matching the Python
// original and letting either side of the protocol be independently
// upgraded without a schema migration.
package rpcwire

import (
	"fmt"

	"github.com/iwalton3/urpc/wire"
)

// EncodeRequest serializes an RPC request as [id, method, args, kwargs].
func EncodeRequest(codec wire.Codec, id int64, method string, args []interface{}, kwargs map[string]interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	return codec.Encode([]interface{}{id, method, args, kwargs})
}

// DecodeRequest deserializes an RPC request tuple.
func DecodeRequest(codec wire.Codec, data []byte) (id int64, method string, args []interface{}, kwargs map[string]interface{}, err error) {
	var raw []interface{}
	if err = codec.Decode(data, &raw); err != nil {
		return 0, "", nil, nil, fmt.Errorf("rpcwire: decode request: %w", err)
	}
	if len(raw) != 4 {
		return 0, "", nil, nil, fmt.Errorf("rpcwire: request has %d elements, want 4", len(raw))
	}

	id, ok := AsInt64(raw[0])
	if !ok {
		return 0, "", nil, nil, fmt.Errorf("rpcwire: request id %v is not an integer", raw[0])
	}
	method, ok = raw[1].(string)
	if !ok {
		return 0, "", nil, nil, fmt.Errorf("rpcwire: request method %v is not a string", raw[1])
	}
	args, _ = AsSlice(raw[2])
	kwargs, _ = AsStringMap(raw[3])

	return id, method, args, kwargs, nil
}

// EncodeResponse serializes an RPC response as [id, success, payload].
func EncodeResponse(codec wire.Codec, id int64, success bool, payload interface{}) ([]byte, error) {
	return codec.Encode([]interface{}{id, success, payload})
}

// DecodeResponse deserializes an RPC response tuple.
func DecodeResponse(codec wire.Codec, data []byte) (id int64, success bool, payload interface{}, err error) {
	var raw []interface{}
	if err = codec.Decode(data, &raw); err != nil {
		return 0, false, nil, fmt.Errorf("rpcwire: decode response: %w", err)
	}
	if len(raw) != 3 {
		return 0, false, nil, fmt.Errorf("rpcwire: response has %d elements, want 3", len(raw))
	}

	id, ok := AsInt64(raw[0])
	if !ok {
		return 0, false, nil, fmt.Errorf("rpcwire: response id %v is not an integer", raw[0])
	}
	success, ok = raw[1].(bool)
	if !ok {
		return 0, false, nil, fmt.Errorf("rpcwire: response success %v is not a bool", raw[1])
	}
	return id, success, raw[2], nil
}

// AsInt64 normalizes the numeric types a codec may produce for an integer
// (msgpack: int64/uint64; JSON: float64) into an int64.
func AsInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// AsSlice normalizes a decoded array value into []interface{}.
func AsSlice(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return []interface{}{}, true
	}
	s, ok := v.([]interface{})
	return s, ok
}

// AsStringMap normalizes a decoded map value into map[string]interface{}.
// msgpack may decode string-keyed maps as map[string]interface{} directly,
// but guards against map[interface{}]interface{} from looser codecs.
func AsStringMap(v interface{}) (map[string]interface{}, bool) {
	if v == nil {
		return map[string]interface{}{}, true
	}
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

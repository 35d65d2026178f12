// Package integration exercises the full client-server stack (transport,
// rpcserver, rpcclient) over a real TCP listener instead of an in-process
// net.Pipe, covering the spec's literal end-to-end scenarios end to end
// through the same wiring cmd/urpcd and cmd/urpcctl use.
package integration

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/iwalton3/urpc/rpcclient"
	"github.com/iwalton3/urpc/rpcserver"
	"github.com/iwalton3/urpc/transport"
	"github.com/iwalton3/urpc/wire"
)

var testSecret = []byte("0123456789abcdef")

func startServer(t *testing.T, registry *rpcserver.Registry, codec wire.Codec, httpHandler transport.HTTPHandler) (addr string, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := rpcserver.NewServer(registry, codec)
	dispatcher := transport.NewDispatcher(testSecret, func(sess *transport.Session) {
		server.Serve(sess)
	})
	if httpHandler != nil {
		dispatcher.SetHTTPHandler(httpHandler)
	}

	go dispatcher.Serve(ln)
	return ln.Addr().String(), func() { dispatcher.Stop() }
}

// TestEchoAndDirectory covers scenarios E1 and E2 together: add(2,3) == 5,
// and _dir reports a permutation of {add, sub, _dir}.
func TestEchoAndDirectory(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.Register("add", func(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
		a, _ := rpcserverToInt(args[0])
		b, _ := rpcserverToInt(args[1])
		return a + b, nil
	})
	registry.Register("sub", func(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
		a, _ := rpcserverToInt(args[0])
		b, _ := rpcserverToInt(args[1])
		return a - b, nil
	})
	codec := wire.NewMsgPackCodec()
	addr, stop := startServer(t, registry, codec, nil)
	defer stop()

	client, err := rpcclient.Connect(testSecret, dialer(addr), rpcclient.WithCodec(codec))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	result, err := client.Call("add", rpcclient.Args{2, 3}, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum, _ := rpcserverToInt(result); sum != 5 {
		t.Fatalf("add(2,3) = %v, want 5", result)
	}

	methods := client.Methods()
	want := map[string]bool{"add": true, "sub": true, "_dir": true}
	if len(methods) != len(want) {
		t.Fatalf("_dir = %v, want permutation of %v", methods, want)
	}
	for name := range want {
		if !methods[name] {
			t.Fatalf("_dir missing %q: %v", name, methods)
		}
	}
}

// TestHandlerExceptionKeepsSessionUsable covers scenario E3.
func TestHandlerExceptionKeepsSessionUsable(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.Register("boom", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
		return nil, rpcserver.NewNamedError("ValueError", "bad")
	})
	registry.Register("ping", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
		return "pong", nil
	})
	codec := wire.NewMsgPackCodec()
	addr, stop := startServer(t, registry, codec, nil)
	defer stop()

	client, err := rpcclient.Connect(testSecret, dialer(addr), rpcclient.WithCodec(codec))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	_, err = client.Call("boom", nil, nil)
	remote, ok := err.(*rpcclient.RemoteError)
	if !ok || remote.Name != "ValueError" || remote.Message != "bad" {
		t.Fatalf("err = %v, want ValueError: bad", err)
	}

	result, err := client.Call("ping", nil, nil)
	if err != nil || result != "pong" {
		t.Fatalf("session unusable after handler error: result=%v err=%v", result, err)
	}
}

// TestHTTPCoexistence covers scenario E6: a plain HTTP GET on the same port
// the crypto RPC channel listens on.
func TestHTTPCoexistence(t *testing.T) {
	registry := rpcserver.NewRegistry()
	codec := wire.NewJSONCodec()
	addr, stop := startServer(t, registry, codec, func(query map[string]string) (interface{}, error) {
		return []interface{}{"some", map[string]bool{"json": true}, "values"}, nil
	})
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /x?a=1 HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	resp := string(buf[:n])
	if !containsAll(resp, "200 OK", `"json":true`) {
		t.Fatalf("response missing expected content: %q", resp)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !jsonContains(s, sub) {
			return false
		}
	}
	return true
}

func jsonContains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func dialer(addr string) rpcclient.Dialer {
	return func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	}
}

func rpcserverToInt(v interface{}) (int64, bool) {
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
		var asJSON float64
		b, err := json.Marshal(v)
		if err != nil {
			return 0, false
		}
		if err := json.Unmarshal(b, &asJSON); err != nil {
			return 0, false
		}
		return int64(asJSON), true
	}
}

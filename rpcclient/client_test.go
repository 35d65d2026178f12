package rpcclient

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/iwalton3/urpc/rpcserver"
	"github.com/iwalton3/urpc/transport"
	"github.com/iwalton3/urpc/wire"
)

var testSecret = []byte("0123456789abcdef")

// pipeDialer hands out one end of a net.Pipe and, on the other end, consumes
// the 3-byte magic the client writes (as the dispatcher would), then starts a
// server handshake plus an rpcserver.Server, so Connect exercises the real
// handshake and `_dir` bootstrap end to end.
func pipeDialer(t *testing.T, registry *rpcserver.Registry) Dialer {
	t.Helper()
	return func() (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			magic := make([]byte, 3)
			if _, err := io.ReadFull(server, magic); err != nil {
				return
			}
			sess := transport.NewSession(server, testSecret)
			if err := sess.ServerHandshake(); err != nil {
				return
			}
			rpcserver.NewServer(registry, wire.NewJSONCodec()).Serve(sess)
		}()
		return client, nil
	}
}

func connect(t *testing.T, registry *rpcserver.Registry) *Client {
	t.Helper()
	c, err := Connect(testSecret, pipeDialer(t, registry), WithCodec(wire.NewJSONCodec()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func TestConnectBootstrapsDirectory(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.Register("echo", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) { return nil, nil })

	c := connect(t, registry)
	defer c.Close()

	methods := c.Methods()
	if !methods["echo"] || !methods["_dir"] {
		t.Fatalf("Methods() = %v, want echo and _dir present", methods)
	}
}

func TestCallRoundTrip(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.Register("echo", func(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
		return args[0], nil
	})

	c := connect(t, registry)
	defer c.Close()

	result, err := c.Call("echo", Args{"hi"}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "hi" {
		t.Fatalf("result = %v, want hi", result)
	}
}

func TestCallHandlerErrorBecomesRemoteError(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.Register("fail", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
		return nil, rpcserver.NewNamedError("ValueError", "bad")
	})

	c := connect(t, registry)
	defer c.Close()

	_, err := c.Call("fail", nil, nil)
	remote, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("err = %v (%T), want *RemoteError", err, err)
	}
	if remote.Name != "ValueError" || remote.Message != "bad" {
		t.Fatalf("remote error = %+v, want {ValueError bad}", remote)
	}
}

// TestOutOfOrderResponses covers scenario E5: id 0 is slow, id 1 is fast,
// and the caller for id 1 is not blocked behind id 0's caller.
func TestOutOfOrderResponses(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.RegisterDeferred("slow", func(rpcserver.Args, rpcserver.Kwargs) <-chan rpcserver.DeferredResult {
		ch := make(chan rpcserver.DeferredResult, 1)
		go func() {
			time.Sleep(100 * time.Millisecond)
			ch <- rpcserver.DeferredResult{Value: "slow-done"}
		}()
		return ch
	})
	registry.Register("fast", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
		return "fast-done", nil
	})

	c := connect(t, registry)
	defer c.Close()

	var wg sync.WaitGroup
	results := make(map[string]interface{})
	var mu sync.Mutex
	order := make(chan string, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := c.Call("slow", nil, nil)
		if err != nil {
			t.Errorf("slow call: %v", err)
		}
		mu.Lock()
		results["slow"] = v
		mu.Unlock()
		order <- "slow"
	}()
	go func() {
		defer wg.Done()
		v, err := c.Call("fast", nil, nil)
		if err != nil {
			t.Errorf("fast call: %v", err)
		}
		mu.Lock()
		results["fast"] = v
		mu.Unlock()
		order <- "fast"
	}()
	wg.Wait()
	close(order)

	first := <-order
	if first != "fast" {
		t.Fatalf("first completed call = %q, want fast (it should not wait behind slow)", first)
	}
	if results["slow"] != "slow-done" || results["fast"] != "fast-done" {
		t.Fatalf("results = %v, want each call matched to its own response", results)
	}
}

// TestCancelledCallNeverDelivers covers testable property 8: a cancelled
// waiter is removed from the pending table and the late response that
// eventually arrives is silently dropped, never delivered anywhere.
func TestCancelledCallNeverDelivers(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.RegisterDeferred("slow", func(rpcserver.Args, rpcserver.Kwargs) <-chan rpcserver.DeferredResult {
		ch := make(chan rpcserver.DeferredResult, 1)
		go func() {
			time.Sleep(50 * time.Millisecond)
			ch <- rpcserver.DeferredResult{Value: "too-late"}
		}()
		return ch
	})

	c := connect(t, registry)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := c.CallContext(ctx, "slow", nil, nil)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}

	// Give the late response time to arrive and be dropped, then confirm
	// the client is still healthy for a fresh call.
	time.Sleep(100 * time.Millisecond)
	registry.Register("ping", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) { return "pong", nil })
	v, err := c.Call("ping", nil, nil)
	if err != nil || v != "pong" {
		t.Fatalf("client unusable after cancellation: v=%v err=%v", v, err)
	}
}

func TestFireAndForgetDoesNotBlock(t *testing.T) {
	registry := rpcserver.NewRegistry()
	c := connect(t, registry)

	v, err := c.Call("reset", nil, nil)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if v != true {
		t.Fatalf("reset result = %v, want true", v)
	}
}

func TestCloseUnblocksPendingCalls(t *testing.T) {
	registry := rpcserver.NewRegistry()
	registry.RegisterDeferred("never", func(rpcserver.Args, rpcserver.Kwargs) <-chan rpcserver.DeferredResult {
		return make(chan rpcserver.DeferredResult) // never sends
	})

	c := connect(t, registry)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call("never", nil, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after Close, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not unblock after Close")
	}
}

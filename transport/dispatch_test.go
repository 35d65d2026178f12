package transport

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// TestDispatchHTTPDefaultOK covers the "no handler registered" branch of
// C5's HTTP sub-surface.
func TestDispatchHTTPDefaultOK(t *testing.T) {
	d := NewDispatcher(testSecret, nil)

	client, server := net.Pipe()
	go d.handleConn(server)

	client.SetDeadline(time.Now().Add(2 * time.Second))
	client.Write([]byte("GET /x HTTP/1.1\r\n\r\n"))

	resp, _ := bufio.NewReader(client).ReadString(0)
	if !strings.Contains(resp, "200 OK") {
		t.Fatalf("response missing 200 OK: %q", resp)
	}
	if !strings.HasSuffix(resp, "OK") {
		t.Fatalf("response body should be the literal OK, got %q", resp)
	}
}

// TestDispatchHTTPWithHandler covers scenario E6: a registered handler's
// return value is JSON-encoded into the body.
func TestDispatchHTTPWithHandler(t *testing.T) {
	d := NewDispatcher(testSecret, nil)
	d.SetHTTPHandler(func(query map[string]string) (interface{}, error) {
		if query["a"] != "1" {
			t.Fatalf("query decode failed, got %v", query)
		}
		return []interface{}{"some", map[string]bool{"json": true}, "values"}, nil
	})

	client, server := net.Pipe()
	go d.handleConn(server)

	client.SetDeadline(time.Now().Add(2 * time.Second))
	client.Write([]byte("GET /x?a=1 HTTP/1.1\r\n\r\n"))

	resp, _ := bufio.NewReader(client).ReadString(0)
	if !strings.Contains(resp, `"json":true`) {
		t.Fatalf("response missing expected JSON body: %q", resp)
	}
}

// TestDispatchRoutesCryptoMagic covers both recognized crypto magics.
func TestDispatchRoutesCryptoMagic(t *testing.T) {
	for _, magic := range [][]byte{MagicCurrent, MagicLegacy} {
		sessionCh := make(chan *Session, 1)
		d := NewDispatcher(testSecret, func(s *Session) { sessionCh <- s })

		client, server := net.Pipe()
		go d.handleConn(server)

		clientSession := NewSession(client, testSecret)
		go func() {
			clientSession.WriteMagic(magic)
			clientSession.ClientHandshake()
		}()

		select {
		case s := <-sessionCh:
			if s.State() != StateOpen {
				t.Fatalf("dispatched session state = %s, want OPEN", s.State())
			}
			s.Close()
		case <-time.After(2 * time.Second):
			t.Fatalf("dispatcher never routed magic %q to onSession", magic)
		}
		clientSession.Close()
	}
}

// TestDispatchRejectsUnknownMagic covers the "anything else: close" branch.
func TestDispatchRejectsUnknownMagic(t *testing.T) {
	d := NewDispatcher(testSecret, nil)

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() { d.handleConn(server); close(done) }()

	client.Write([]byte("XYZ"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not close connection for unknown magic")
	}
}

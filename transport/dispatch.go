package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

const magicSize = 3

// HTTPHandler answers the optional plain-HTTP GET sub-surface (spec §4.5,
// §6). It receives the decoded query string and returns a value to be
// JSON-serialized into the response body.
type HTTPHandler func(query map[string]string) (interface{}, error)

// SessionHandler is invoked with a freshly handshaken server Session for
// every accepted crypto-RPC connection. It owns the Session for its
// lifetime and should Close it when done.
type SessionHandler func(*Session)

// Dispatcher implements C5: it peeks (consumes) the first three bytes of
// each accepted connection and routes to the plain-HTTP sub-surface or to
// the framed crypto channel, matching the teacher's accept-loop/WaitGroup
// shutdown shape (p2p.Server.listenLoop/Stop).
type Dispatcher struct {
	secret  []byte
	options []Option

	httpHandler HTTPHandler
	onSession   SessionHandler

	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
	listener net.Listener

	log log.Logger
}

// NewDispatcher creates a Dispatcher keyed by the pre-shared secret. Every
// accepted crypto-RPC connection that completes its handshake is handed to
// onSession on its own goroutine. sessionOpts are forwarded to NewSession
// for each accepted connection (e.g. WithLifetime).
func NewDispatcher(secret []byte, onSession SessionHandler, sessionOpts ...Option) *Dispatcher {
	return &Dispatcher{
		secret:    secret,
		options:   sessionOpts,
		onSession: onSession,
		quit:      make(chan struct{}),
		log:       log.New("module", "dispatch"),
	}
}

// SetHTTPHandler registers the handler for the plain-HTTP GET sub-surface.
// When unset, GET requests receive the literal body "OK".
func (d *Dispatcher) SetHTTPHandler(h HTTPHandler) {
	d.httpHandler = h
}

// Serve accepts connections from ln until Stop is called, dispatching each
// to its own goroutine. It blocks until the listener is closed.
func (d *Dispatcher) Serve(ln net.Listener) error {
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-d.quit:
				return nil
			default:
				d.log.Warn("accept error", "err", err)
				continue
			}
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConn(conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections' dispatch
// goroutines to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	select {
	case <-d.quit:
		d.mu.Unlock()
		return
	default:
		close(d.quit)
	}
	ln := d.listener
	d.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	d.wg.Wait()
}

func (d *Dispatcher) handleConn(conn net.Conn) {
	magic := make([]byte, magicSize)
	if _, err := readFull(conn, magic); err != nil {
		conn.Close()
		return
	}

	switch {
	case bytes.Equal(magic, []byte("GET")):
		d.serveHTTP(conn)
	case bytes.Equal(magic, MagicCurrent) || bytes.Equal(magic, MagicLegacy):
		d.serveCrypto(conn)
	default:
		d.log.Debug("unrecognized connection magic", "remote", conn.RemoteAddr(), "magic", string(magic))
		conn.Close()
	}
}

func (d *Dispatcher) serveCrypto(conn net.Conn) {
	sess := NewSession(conn, d.secret, d.options...)
	if err := sess.ServerHandshake(); err != nil {
		d.log.Debug("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	if d.onSession != nil {
		d.onSession(sess)
	}
}

// serveHTTP handles the minimal HTTP/1.1 GET sub-surface: it reads up to
// the first line's CRLF, parses "GET /path?k=v&k=v HTTP/1.1", decodes the
// query string, and responds with a 200 carrying a JSON body (or the
// literal "OK" when no handler is registered).
func (d *Dispatcher) serveHTTP(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return
	}
	// The magic bytes "GET" were already consumed by handleConn.
	requestLine := "GET" + strings.TrimRight(line, "\r\n")

	path, rawQuery := parseRequestLine(requestLine)
	query := decodeQuery(rawQuery)

	var body []byte
	if d.httpHandler != nil {
		result, err := d.httpHandler(query)
		if err != nil {
			body = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		} else {
			encoded, err := json.Marshal(result)
			if err != nil {
				encoded = []byte(`null`)
			}
			body = encoded
		}
	} else {
		body = []byte("OK")
	}

	resp := fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(body), body,
	)
	conn.Write([]byte(resp))
	_ = path
}

// parseRequestLine extracts the path and raw query string from a request
// line of the form "GET /path?k=v&k=v HTTP/1.1".
func parseRequestLine(line string) (path, rawQuery string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", ""
	}
	target := fields[1]
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func decodeQuery(raw string) map[string]string {
	out := make(map[string]string)
	values, err := url.ParseQuery(raw)
	if err != nil {
		return out
	}
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Package transport implements the framed crypto channel (C4): the nonce
// handshake, AES-128-CBC frame encryption under per-direction rolling
// session keys, and the connection dispatcher (C5) that shares a TCP port
// between this protocol and plain HTTP.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/iwalton3/urpc/internal/xhash"
)

// State is a Session's position in the INIT -> HANDSHAKING -> OPEN -> CLOSED
// state machine (spec §4.4). Only OPEN permits Send/Recv.
type State int32

const (
	StateInit State = iota
	StateHandshaking
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultLifetime is the conventional absolute session lifetime (spec §3,
// §6). It is not applied implicitly: expiry is enforced only when a positive
// duration is passed to WithLifetime, e.g. WithLifetime(DefaultLifetime).
const DefaultLifetime = 600 * time.Second

// Session is one handshake-established duplex channel over a net.Conn. A
// Session is created by NewSession and must be handed to ServerHandshake or
// ClientHandshake before Send/Recv are used. It is safe to call Send from
// one goroutine and Recv from another concurrently; concurrent Sends (or
// concurrent Recvs) are serialized internally.
type Session struct {
	conn   net.Conn
	secret []byte // K, 16 bytes

	wmu   sync.Mutex
	txKey [xhash.Size]byte

	rmu       sync.Mutex
	rxKey     [xhash.Size]byte
	lifetime  time.Duration
	expiresAt time.Time

	state int32 // atomic State

	closeOnce sync.Once
	onEOF     func()
	onErr     func(error)

	log log.Logger
}

// Option configures optional Session behavior.
type Option func(*Session)

// WithLifetime enables absolute session expiry enforcement on receive, per
// spec §3/§6. A zero duration leaves expiry disabled (the default).
func WithLifetime(d time.Duration) Option {
	return func(s *Session) { s.lifetime = d }
}

// WithOnEOF registers a hook invoked exactly once, when the session closes
// cleanly (transport EOF or explicit Close).
func WithOnEOF(f func()) Option {
	return func(s *Session) { s.onEOF = f }
}

// WithOnErr registers a hook invoked at most once, when the session closes
// due to a fatal transport, cryptographic, or protocol error.
func WithOnErr(f func(error)) Option {
	return func(s *Session) { s.onErr = f }
}

// NewSession wraps conn in a Session keyed by the 16-byte pre-shared secret.
// Call ServerHandshake or ClientHandshake before using Send/Recv.
func NewSession(conn net.Conn, secret []byte, opts ...Option) *Session {
	s := &Session{
		conn:   conn,
		secret: secret,
		log:    log.New("module", "transport"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the Session's current position in the state machine.
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}

// RemoteAddr returns the underlying connection's remote address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close releases the underlying socket. It is safe to call more than once
// and is idempotent with the failure path taken by Send/Recv.
func (s *Session) Close() error {
	s.closeWith(nil)
	return nil
}

// fail transitions the session to CLOSED, releases the socket, fires the
// appropriate hook, and returns err unchanged so call sites can
// `return s.fail(err)`.
func (s *Session) fail(err error) error {
	s.closeWith(err)
	return err
}

func (s *Session) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.conn.Close()
		if err == nil || errors.Is(err, io.EOF) {
			if s.onEOF != nil {
				s.onEOF()
			}
			return
		}
		s.log.Debug("session closed", "remote", s.conn.RemoteAddr(), "err", err)
		if s.onErr != nil {
			s.onErr(err)
		}
	})
}

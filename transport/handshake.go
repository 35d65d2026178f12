package transport

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/iwalton3/urpc/internal/xhash"
)

// MagicCurrent is the magic this implementation emits on outbound connects
// (spec §9: the design should accept both historical magics but only ever
// send the current one).
var MagicCurrent = []byte("CRS")

// MagicLegacy is accepted for backward compatibility with older peers.
var MagicLegacy = []byte("RPC")

// okBytes is the 2-byte confirmation the server sends once the handshake's
// nonce exchange has succeeded.
var okBytes = []byte("OK")

// ServerHandshake performs the server-side role of the nonce handshake
// (spec §4.4): send our nonce+auth, read and verify the peer's, then confirm
// with "OK". The dispatcher (C5) must have already consumed the 3-byte
// magic before calling this.
func (s *Session) ServerHandshake() error {
	return s.handshake(true)
}

// ClientHandshake performs the client-side role of the nonce handshake: read
// and verify the peer's nonce+auth first, then send our own, then wait for
// "OK". Callers that want to send a magic first should write it to conn
// before constructing the Session, or via WriteMagic.
func (s *Session) ClientHandshake() error {
	return s.handshake(false)
}

// WriteMagic writes the 3-byte sub-protocol selector a client sends before
// the handshake proper (spec §6). It must be called, if at all, before
// ClientHandshake.
func (s *Session) WriteMagic(magic []byte) error {
	if len(magic) != 3 {
		return fmt.Errorf("transport: magic must be 3 bytes, got %d", len(magic))
	}
	if _, err := s.conn.Write(magic); err != nil {
		return s.fail(fmt.Errorf("%w: write magic: %v", ErrBadHandshake, err))
	}
	return nil
}

func (s *Session) handshake(isServer bool) error {
	if s.State() != StateInit {
		return fmt.Errorf("transport: handshake called in state %s, want %s", s.State(), StateInit)
	}
	s.setState(StateHandshaking)

	var localNonce [xhash.Size]byte
	if _, err := rand.Read(localNonce[:]); err != nil {
		return s.fail(fmt.Errorf("%w: generate nonce: %v", ErrBadHandshake, err))
	}
	localAuth := xhash.Sum(s.secret, localNonce[:])

	sendOwn := func() error {
		buf := make([]byte, 0, 32)
		buf = append(buf, localNonce[:]...)
		buf = append(buf, localAuth[:]...)
		_, err := s.conn.Write(buf)
		return err
	}

	var remoteNonce, remoteAuth [xhash.Size]byte
	readPeer := func() error {
		buf := make([]byte, 32)
		if _, err := io.ReadFull(s.conn, buf); err != nil {
			return err
		}
		copy(remoteNonce[:], buf[:16])
		copy(remoteAuth[:], buf[16:])
		return nil
	}

	peerVerified := func() bool {
		expectedRemoteAuth := xhash.Sum(s.secret, remoteNonce[:])
		return xhash.Equal(remoteAuth[:], expectedRemoteAuth[:])
	}

	if isServer {
		if err := sendOwn(); err != nil {
			return s.fail(fmt.Errorf("%w: send nonce: %v", ErrBadHandshake, err))
		}
		if err := readPeer(); err != nil {
			return s.fail(fmt.Errorf("%w: recv nonce: %v", ErrBadHandshake, err))
		}
		if !peerVerified() {
			return s.fail(ErrBadHandshake)
		}
	} else {
		if err := readPeer(); err != nil {
			return s.fail(fmt.Errorf("%w: recv nonce: %v", ErrBadHandshake, err))
		}
		if !peerVerified() {
			return s.fail(ErrBadHandshake)
		}
		if err := sendOwn(); err != nil {
			return s.fail(fmt.Errorf("%w: send nonce: %v", ErrBadHandshake, err))
		}
	}

	if isServer {
		if _, err := s.conn.Write(okBytes); err != nil {
			return s.fail(fmt.Errorf("%w: send OK: %v", ErrBadHandshake, err))
		}
	} else {
		ok := make([]byte, 2)
		if _, err := io.ReadFull(s.conn, ok); err != nil {
			return s.fail(fmt.Errorf("%w: recv OK: %v", ErrBadHandshake, err))
		}
		if !xhash.Equal(ok, okBytes) {
			return s.fail(ErrBadHandshake)
		}
	}

	s.txKey = localNonce
	s.rxKey = remoteNonce
	if s.lifetime > 0 {
		s.expiresAt = time.Now().Add(s.lifetime)
	}
	s.setState(StateOpen)
	s.log.Debug("session handshake complete", "remote", s.conn.RemoteAddr(), "server", isServer)
	return nil
}

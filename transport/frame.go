package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/iwalton3/urpc/internal/aescbc"
	"github.com/iwalton3/urpc/internal/xhash"
)

const (
	headerAuthSize = xhash.Size
	headerLenSize  = 2
	headerSize     = headerAuthSize + headerLenSize

	// maxFrameBlocks is the largest block count len_be16 can express.
	maxFrameBlocks = 0xFFFF
)

// Send pads, encrypts, authenticates, and writes plaintext as one frame
// (spec §4.4 "Send frame"). It is the sole critical section for the
// outbound direction: encrypting, advancing tx_key, and writing happen
// atomically with respect to any other Send on this Session, which is what
// lets multiple RPC responses share one socket safely.
func (s *Session) Send(plaintext []byte) error {
	if s.State() != StateOpen {
		return ErrSessionClosed
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.State() != StateOpen {
		return ErrSessionClosed
	}

	iv := s.txKey
	ciphertext, err := aescbc.Encrypt(s.secret, iv[:], plaintext)
	if err != nil {
		return s.fail(fmt.Errorf("transport: encrypt frame: %w", err))
	}

	blocks := len(ciphertext) / aescbc.BlockSize
	if blocks > maxFrameBlocks {
		return s.fail(fmt.Errorf("%w: %d blocks", ErrFrameTooLarge, blocks))
	}

	var lenBytes [headerLenSize]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(blocks))

	auth := xhash.Sum(s.secret, iv[:], ciphertext, lenBytes[:])

	frame := make([]byte, 0, headerSize+len(ciphertext))
	frame = append(frame, auth[:]...)
	frame = append(frame, lenBytes[:]...)
	frame = append(frame, ciphertext...)

	if _, err := s.conn.Write(frame); err != nil {
		return s.fail(fmt.Errorf("transport: write frame: %w", err))
	}

	s.txKey = xhash.Sum(s.secret, iv[:])
	return nil
}

// Recv reads, authenticates, and decrypts the next frame, returning its
// plaintext payload (spec §4.4 "Receive frame"). It is the sole critical
// section for the inbound direction.
func (s *Session) Recv() ([]byte, error) {
	if s.State() != StateOpen {
		return nil, ErrSessionClosed
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()

	if s.State() != StateOpen {
		return nil, ErrSessionClosed
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(s.conn, header); err != nil {
		return nil, s.fail(err)
	}

	auth := header[:headerAuthSize]
	lenBytes := header[headerAuthSize:]
	blocks := binary.BigEndian.Uint16(lenBytes)
	if blocks == 0 {
		return nil, s.fail(fmt.Errorf("%w: zero-block frame", ErrFrameTooLarge))
	}

	ciphertext := make([]byte, int(blocks)*aescbc.BlockSize)
	if _, err := io.ReadFull(s.conn, ciphertext); err != nil {
		return nil, s.fail(err)
	}

	iv := s.rxKey
	expectedAuth := xhash.Sum(s.secret, iv[:], ciphertext, lenBytes)
	if !xhash.Equal(auth, expectedAuth[:]) {
		return nil, s.fail(ErrBadAuth)
	}

	if !s.expiresAt.IsZero() {
		now := time.Now()
		if now.After(s.expiresAt) {
			return nil, s.fail(ErrSessionExpired)
		}
		s.expiresAt = now.Add(s.lifetime)
	}

	plaintext, err := aescbc.Decrypt(s.secret, iv[:], ciphertext)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %v", ErrBadPadding, err))
	}

	s.rxKey = xhash.Sum(s.secret, iv[:])
	return plaintext, nil
}

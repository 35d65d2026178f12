package transport

import "errors"

// Fatal errors close the session irrecoverably and are never reported
// in-band to the peer (spec §7: cryptographic/protocol/transport errors).
var (
	// ErrBadHandshake covers any failure during the nonce exchange: a
	// short read, an auth mismatch, or a bad "OK" confirmation.
	ErrBadHandshake = errors.New("transport: handshake failed")

	// ErrBadAuth is returned when a frame's auth tag does not match.
	// Which sub-check failed is deliberately not distinguished on the wire
	// or in this error: spec §7 forbids leaking that to the peer, and the
	// local log message carries the detail instead.
	ErrBadAuth = errors.New("transport: frame authentication failed")

	// ErrSessionExpired is returned when a frame arrives after the
	// session's absolute lifetime has elapsed.
	ErrSessionExpired = errors.New("transport: session expired")

	// ErrBadPadding is returned when a decrypted frame's padding byte is
	// outside [1, 16].
	ErrBadPadding = errors.New("transport: invalid frame padding")

	// ErrFrameTooLarge is returned when a frame's declared block count
	// would overflow the maximum supported payload.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrSessionClosed is returned by Send/Recv once the session has left
	// the OPEN state, whether due to an earlier error or an explicit Close.
	ErrSessionClosed = errors.New("transport: session closed")

	// ErrUnknownMagic describes a connection whose first three bytes match
	// neither the HTTP nor the crypto magics. The Dispatcher does not return
	// it; it closes such connections.
	ErrUnknownMagic = errors.New("transport: unrecognized connection magic")
)

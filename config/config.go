// Package config defines the device-side and controller-side configuration
// surface (spec §6): the pre-shared secret, wire format, optional session
// lifetime, the management API opt-in, and the bring-up fields the device
// passes through to its captive Wi-Fi provisioning flow untouched.
package config

import (
	"fmt"
	"time"

	"github.com/iwalton3/urpc/wire"
)

// Config holds the settings a urpc device or controller process needs at
// startup. Zero values are meaningful defaults: an empty WireFormat
// defaults to MessagePack, and a zero SessionLifetime disables absolute
// session expiry.
type Config struct {
	// SecretKey is the 16-byte pre-shared key K used for the handshake and
	// every frame's auth tag (spec §2, §4.4).
	SecretKey []byte

	// WireFormat selects the RPC payload codec. Empty defaults to
	// MessagePack.
	WireFormat wire.Format

	// FloatPrecision selects how the MessagePack codec writes floating-
	// point values (spec §4.3). Empty defaults to wire.DoublePrecision,
	// matching the host's native float precision; set to
	// wire.SinglePrecision for peers that only support single-precision
	// floats. Ignored when WireFormat is JSON.
	FloatPrecision wire.FloatPrecision

	// SessionLifetime is the absolute per-session lifetime enforced on
	// receive (spec §3, §6). Zero disables the check.
	SessionLifetime time.Duration

	// EnableMgmtAPI registers the device-management methods (reset,
	// soft_reset, ls, get, put, rm, start_webrepl, stop_webrepl, and a
	// disabled eval stub) in addition to
	// whatever application methods the embedding program registers. Off by
	// default: most deployments should not expose filesystem or power
	// control to every RPC caller.
	EnableMgmtAPI bool

	// WifiSSID and WifiPassword are passed through untouched to the
	// device's bring-up provisioning flow; urpc does not interpret them.
	WifiSSID     string
	WifiPassword string

	// AutostartWebREPL starts the device's WebREPL surface at boot instead
	// of waiting for an explicit start_webrepl call.
	AutostartWebREPL bool
}

const secretKeySize = 16

// Validate checks the fields urpc itself depends on (the secret's length
// and, if set, a recognized wire format). It does not validate the
// bring-up fields, which are opaque to this package.
func (c *Config) Validate() error {
	if len(c.SecretKey) != secretKeySize {
		return fmt.Errorf("config: secret key must be %d bytes, got %d", secretKeySize, len(c.SecretKey))
	}
	switch c.WireFormat {
	case "", wire.FormatMsgPack, wire.FormatJSON:
	default:
		return fmt.Errorf("config: unknown wire format %q", c.WireFormat)
	}
	switch c.FloatPrecision {
	case "", wire.DoublePrecision, wire.SinglePrecision:
	default:
		return fmt.Errorf("config: unknown float precision %q", c.FloatPrecision)
	}
	return nil
}

// Codec builds the wire.Codec selected by WireFormat, applying
// FloatPrecision when the format is MessagePack.
func (c *Config) Codec() (wire.Codec, error) {
	var opts []wire.MsgPackOption
	if c.FloatPrecision != "" {
		opts = append(opts, wire.WithFloatPrecision(c.FloatPrecision))
	}
	return wire.NewCodec(c.WireFormat, opts...)
}

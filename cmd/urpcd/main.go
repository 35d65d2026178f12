// Command urpcd runs the device-side half of urpc: it listens on a TCP
// port, shares it between the plain-HTTP sub-surface and the encrypted RPC
// channel (C5), and serves whatever procedures the embedding deployment
// registers plus, if enabled, the conventional management surface.
//
// This binary only wires the plumbing; it has no application procedures of
// its own beyond a demonstration `echo` method, the same role the
// teacher's cmd/eth2030-geth plays for go-ethereum: a flag-driven bootstrap
// over a library that does the real work.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/iwalton3/urpc/config"
	"github.com/iwalton3/urpc/rpcserver"
	"github.com/iwalton3/urpc/rpcserver/mgmt"
	"github.com/iwalton3/urpc/transport"
	"github.com/iwalton3/urpc/wire"
)

var (
	version = "v0.1.0"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("urpcd", flag.ContinueOnError)

	addr := fs.String("addr", "0.0.0.0:8080", "address to listen on")
	secretHex := fs.String("secret", "", "32 hex chars (16 bytes) pre-shared secret key")
	wireFormat := fs.String("wire-format", string(wire.FormatMsgPack), "wire format: msgpack or json")
	floatPrecision := fs.String("float-precision", string(wire.DoublePrecision), "msgpack float precision: double or single (for peers that only support single-precision floats)")
	lifetimeSec := fs.Int("session-lifetime", 0, "absolute session lifetime in seconds (0 disables)")
	enableMgmt := fs.Bool("enable-mgmt-api", false, "register the device-management RPC methods")
	fsRoot := fs.String("mgmt-fs-root", "", "filesystem root exposed by ls/put/get when management is enabled")
	wifiSSID := fs.String("wifi-ssid", "", "bring-up Wi-Fi SSID, passed through untouched")
	wifiPassword := fs.String("wifi-password", "", "bring-up Wi-Fi password, passed through untouched")
	autostartWebREPL := fs.Bool("autostart-webrepl", false, "start the WebREPL surface at boot")
	verbosity := fs.Int("verbosity", 3, "log level 0-5 (0 and 1=errors only, 5=trace)")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if *showVersion {
		fmt.Printf("urpcd %s (commit %s)\n", version, commit)
		return 0
	}

	setupLogging(*verbosity)

	secret, err := hex.DecodeString(*secretHex)
	if err != nil {
		log.Error("invalid secret", "err", err)
		return 2
	}

	cfg := &config.Config{
		SecretKey:        secret,
		WireFormat:       wire.Format(*wireFormat),
		FloatPrecision:   wire.FloatPrecision(*floatPrecision),
		SessionLifetime:  time.Duration(*lifetimeSec) * time.Second,
		EnableMgmtAPI:    *enableMgmt,
		WifiSSID:         *wifiSSID,
		WifiPassword:     *wifiPassword,
		AutostartWebREPL: *autostartWebREPL,
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		return 2
	}

	codec, err := cfg.Codec()
	if err != nil {
		log.Error("invalid wire format", "err", err)
		return 2
	}

	registry := rpcserver.NewRegistry()
	registry.Register("echo", func(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
		if len(args) == 0 {
			return nil, rpcserver.NewNamedError("ValueError", "echo requires one argument")
		}
		return args[0], nil
	})

	if cfg.EnableMgmtAPI {
		mgmt.Register(registry, mgmt.Hooks{
			Reset:          func() { log.Warn("reset requested over RPC, no reboot hook wired"); os.Exit(0) },
			SoftReset:      func() { log.Info("soft_reset requested over RPC") },
			FilesystemRoot: *fsRoot,
			StartWebREPL: func(password string, port int64) error {
				log.Info("start_webrepl requested", "port", port)
				return nil
			},
			StopWebREPL: func() error {
				log.Info("stop_webrepl requested")
				return nil
			},
		})
		if cfg.AutostartWebREPL {
			log.Info("autostarting webrepl")
		}
	}

	server := rpcserver.NewServer(registry, codec)
	var sessionOpts []transport.Option
	if cfg.SessionLifetime > 0 {
		sessionOpts = append(sessionOpts, transport.WithLifetime(cfg.SessionLifetime))
	}
	dispatcher := transport.NewDispatcher(secret, func(sess *transport.Session) {
		server.Serve(sess)
	}, sessionOpts...)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Error("listen failed", "addr", *addr, "err", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		dispatcher.Stop()
	}()

	log.Info("urpcd listening", "addr", *addr, "mgmt", cfg.EnableMgmtAPI, "wire_format", cfg.WireFormat)
	if err := dispatcher.Serve(ln); err != nil {
		log.Error("serve exited", "err", err)
		return 1
	}
	return 0
}

func setupLogging(verbosity int) {
	var lvl slog.Level
	switch {
	case verbosity <= 1:
		lvl = slog.LevelError
	case verbosity == 2:
		lvl = slog.LevelWarn
	case verbosity == 3:
		lvl = slog.LevelInfo
	case verbosity == 4:
		lvl = slog.LevelDebug
	default:
		lvl = log.LevelTrace
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}

// Command urpcctl is a thin controller CLI: it connects to a urpcd
// endpoint, performs the handshake and `_dir` bootstrap, then either lists
// the discovered procedures or invokes one with JSON-encoded arguments and
// prints its JSON-encoded result. It plays the role the teacher's
// cmd/eth2030 console plays for a running node: a small flag-driven front
// end over an already-complete client library.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/iwalton3/urpc/rpcclient"
	"github.com/iwalton3/urpc/wire"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("urpcctl", flag.ContinueOnError)

	addr := fs.String("addr", "127.0.0.1:8080", "urpcd address to connect to")
	secretHex := fs.String("secret", "", "32 hex chars (16 bytes) pre-shared secret key")
	wireFormat := fs.String("wire-format", string(wire.FormatMsgPack), "wire format: msgpack or json")
	floatPrecision := fs.String("float-precision", string(wire.DoublePrecision), "msgpack float precision: double or single (match the device's setting)")
	dialTimeout := fs.Duration("dial-timeout", 5*time.Second, "TCP dial timeout")
	listOnly := fs.Bool("list", false, "print the discovered method directory and exit")
	method := fs.String("method", "", "method to call")
	argsJSON := fs.String("args", "[]", "JSON array of positional arguments")
	kwargsJSON := fs.String("kwargs", "{}", "JSON object of keyword arguments")
	verbosity := fs.Int("verbosity", 3, "log level 0-5 (0 and 1=errors only, 5=trace)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	setupLogging(*verbosity)

	secret, err := hex.DecodeString(*secretHex)
	if err != nil {
		log.Error("invalid secret", "err", err)
		return 2
	}

	codec, err := wire.NewCodec(wire.Format(*wireFormat), wire.WithFloatPrecision(wire.FloatPrecision(*floatPrecision)))
	if err != nil {
		log.Error("invalid wire format", "err", err)
		return 2
	}

	dial := func() (net.Conn, error) {
		return net.DialTimeout("tcp", *addr, *dialTimeout)
	}

	client, err := rpcclient.Connect(secret, dial, rpcclient.WithCodec(codec))
	if err != nil {
		log.Error("connect failed", "addr", *addr, "err", err)
		return 1
	}
	defer client.Close()

	if *listOnly {
		for name := range client.Methods() {
			fmt.Println(name)
		}
		return 0
	}

	if *method == "" {
		fmt.Fprintln(os.Stderr, "Error: -method is required unless -list is given")
		return 2
	}

	var callArgs []interface{}
	if err := json.Unmarshal([]byte(*argsJSON), &callArgs); err != nil {
		log.Error("invalid -args JSON", "err", err)
		return 2
	}
	var callKwargs map[string]interface{}
	if err := json.Unmarshal([]byte(*kwargsJSON), &callKwargs); err != nil {
		log.Error("invalid -kwargs JSON", "err", err)
		return 2
	}

	result, err := client.Call(*method, callArgs, callKwargs)
	if err != nil {
		log.Error("call failed", "method", *method, "err", err)
		return 1
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		log.Error("result could not be JSON-encoded", "err", err)
		return 1
	}
	fmt.Println(string(encoded))
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

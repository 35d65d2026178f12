// Package mgmt implements the conventional device-management procedures
// (spec §6): reset, soft_reset, ls, put, get, rm, start_webrepl,
// stop_webrepl. Per spec §1 these are external collaborators with only their
// interfaces specified — urpc does not define how a device actually reboots
// or runs a REPL — so this package wires each method to a caller-supplied
// hook and is registered only when a deployment opts in via
// config.Config.EnableMgmtAPI. `eval` is registered only as a stub that
// always fails with NotImplementedError, and `exec` is not provided: no
// arbitrary code execution or expression language is part of this protocol.
package mgmt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iwalton3/urpc/rpcserver"
)

// Hooks wires the management methods to their real device-side behavior.
// A nil hook disables its method: the registry simply doesn't register it,
// so an unconfigured device reports it missing from `_dir` rather than
// silently no-op'ing.
type Hooks struct {
	// Reset performs a hard reset. The registered handler calls it
	// synchronously and answers true if it returns; the client treats
	// `reset` as fire-and-forget and never waits for that answer.
	Reset func()

	// SoftReset performs a soft/in-process reset (e.g. reinitializing the
	// application without a hardware reboot).
	SoftReset func()

	// FilesystemRoot, if non-empty, enables ls/put/get rooted at this
	// directory. Paths are cleaned and rejected if they would escape the
	// root.
	FilesystemRoot string

	// StartWebREPL and StopWebREPL control the device's WebREPL surface.
	StartWebREPL func(password string, port int64) error
	StopWebREPL  func() error
}

// Register adds the management methods that h enables to registry.
func Register(registry *rpcserver.Registry, h Hooks) {
	if h.Reset != nil {
		registry.Register("reset", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
			h.Reset()
			return true, nil
		})
	}
	if h.SoftReset != nil {
		registry.Register("soft_reset", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
			h.SoftReset()
			return true, nil
		})
	}
	if h.FilesystemRoot != "" {
		fs := &fsHandlers{root: h.FilesystemRoot}
		registry.Register("ls", fs.ls)
		registry.Register("put", fs.put)
		registry.Register("get", fs.get)
		registry.Register("rm", fs.rm)
	}
	// eval carried over only as a disabled stub: the original exposed
	// arbitrary code execution, which has no safe equivalent here (spec
	// §9). It stays registered so `eval` still appears discoverable via
	// `_dir` rather than silently vanishing, but always refuses.
	registry.Register("eval", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
		return nil, rpcserver.NewNamedError("NotImplementedError", "eval is disabled")
	})
	if h.StartWebREPL != nil {
		registry.Register("start_webrepl", func(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
			password, _ := stringArg(args, kwargs, 0, "password")
			port := int64(8266)
			if p, ok := intArg(args, kwargs, 1, "port"); ok {
				port = p
			}
			if err := h.StartWebREPL(password, port); err != nil {
				return nil, rpcserver.NewNamedError("OSError", err.Error())
			}
			return true, nil
		})
	}
	if h.StopWebREPL != nil {
		registry.Register("stop_webrepl", func(rpcserver.Args, rpcserver.Kwargs) (interface{}, error) {
			if err := h.StopWebREPL(); err != nil {
				return nil, rpcserver.NewNamedError("OSError", err.Error())
			}
			return true, nil
		})
	}
}

type fsHandlers struct {
	root string
}

func (f *fsHandlers) resolve(path string) (string, error) {
	full := filepath.Join(f.root, path)
	rel, err := filepath.Rel(f.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes filesystem root", path)
	}
	return full, nil
}

func (f *fsHandlers) ls(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
	path, _ := stringArg(args, kwargs, 0, "path")
	full, err := f.resolve(path)
	if err != nil {
		return nil, rpcserver.NewNamedError("ValueError", err.Error())
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, rpcserver.NewNamedError("OSError", err.Error())
	}
	names := make([]interface{}, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (f *fsHandlers) get(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
	path, ok := stringArg(args, kwargs, 0, "path")
	if !ok {
		return nil, rpcserver.NewNamedError("ValueError", "get requires a path")
	}
	full, err := f.resolve(path)
	if err != nil {
		return nil, rpcserver.NewNamedError("ValueError", err.Error())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, rpcserver.NewNamedError("OSError", err.Error())
	}
	return data, nil
}

func (f *fsHandlers) put(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
	path, ok := stringArg(args, kwargs, 0, "path")
	if !ok {
		return nil, rpcserver.NewNamedError("ValueError", "put requires a path")
	}
	var data []byte
	if len(args) > 1 {
		if b, ok := args[1].([]byte); ok {
			data = b
		} else if s, ok := args[1].(string); ok {
			data = []byte(s)
		}
	}
	full, err := f.resolve(path)
	if err != nil {
		return nil, rpcserver.NewNamedError("ValueError", err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, rpcserver.NewNamedError("OSError", err.Error())
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, rpcserver.NewNamedError("OSError", err.Error())
	}
	return true, nil
}

func (f *fsHandlers) rm(args rpcserver.Args, kwargs rpcserver.Kwargs) (interface{}, error) {
	path, ok := stringArg(args, kwargs, 0, "path")
	if !ok {
		return nil, rpcserver.NewNamedError("ValueError", "rm requires a path")
	}
	full, err := f.resolve(path)
	if err != nil {
		return nil, rpcserver.NewNamedError("ValueError", err.Error())
	}
	if err := os.Remove(full); err != nil {
		return nil, rpcserver.NewNamedError("OSError", err.Error())
	}
	return true, nil
}

func stringArg(args rpcserver.Args, kwargs rpcserver.Kwargs, pos int, name string) (string, bool) {
	if len(args) > pos {
		if s, ok := args[pos].(string); ok {
			return s, true
		}
	}
	if v, ok := kwargs[name]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

func intArg(args rpcserver.Args, kwargs rpcserver.Kwargs, pos int, name string) (int64, bool) {
	var v interface{}
	if len(args) > pos {
		v = args[pos]
	} else if kv, ok := kwargs[name]; ok {
		v = kv
	} else {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

package rpcserver

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/iwalton3/urpc/internal/rpcwire"
	"github.com/iwalton3/urpc/transport"
	"github.com/iwalton3/urpc/wire"
)

// Server implements the per-frame processing contract of C6: receive one
// cleartext message, decode it, dispatch to the registry, and send back an
// encoded response. Processing of independently-received frames runs
// concurrently; transport.Session.Send already serializes the frame writes
// that each response produces, so the rolling-key invariant (at most one
// concurrent send per direction) holds regardless of how handlers overlap.
type Server struct {
	registry *Registry
	codec    wire.Codec
	log      log.Logger
}

// NewServer creates a Server dispatching into registry, encoding responses
// with codec.
func NewServer(registry *Registry, codec wire.Codec) *Server {
	return &Server{
		registry: registry,
		codec:    codec,
		log:      log.New("module", "rpcserver"),
	}
}

// Serve drains sess until it closes, spawning one goroutine per received
// frame so a slow handler never blocks frames that arrive after it (spec
// §4.6 concurrency contract, scenario E5).
func (s *Server) Serve(sess *transport.Session) {
	for {
		plaintext, err := sess.Recv()
		if err != nil {
			return
		}
		go s.handleFrame(sess, plaintext)
	}
}

func (s *Server) handleFrame(sess *transport.Session, plaintext []byte) {
	id, method, args, kwargs, err := rpcwire.DecodeRequest(s.codec, plaintext)
	if err != nil {
		// A malformed serialized payload is a protocol error (spec §7):
		// fatal, and never reported in-band because there is no trustworthy
		// id to correlate a response with.
		s.log.Debug("malformed request, closing session", "remote", sess.RemoteAddr(), "err", err)
		sess.Close()
		return
	}

	result, success := s.dispatch(method, args, kwargs)

	encoded, err := rpcwire.EncodeResponse(s.codec, id, success, result)
	if err != nil {
		s.log.Error("failed to encode response, closing session", "method", method, "err", err)
		sess.Close()
		return
	}

	if err := sess.Send(encoded); err != nil {
		// Send already closed the session; nothing more to do.
		return
	}
}

func (s *Server) dispatch(method string, args Args, kwargs Kwargs) (result interface{}, success bool) {
	e, found := s.registry.lookup(method)
	if !found {
		return []interface{}{"KeyError", method}, false
	}
	return s.invoke(e, args, kwargs)
}

func (s *Server) invoke(e entry, args Args, kwargs Kwargs) (result interface{}, success bool) {
	defer func() {
		if r := recover(); r != nil {
			result = []interface{}{"Panic", fmt.Sprint(r)}
			success = false
		}
	}()

	var value interface{}
	var err error
	switch {
	case e.deferred != nil:
		res := <-e.deferred(args, kwargs)
		value, err = res.Value, res.Err
	case e.sync != nil:
		value, err = e.sync(args, kwargs)
	default:
		err = NewNamedError("KeyError", "handler has no implementation")
	}

	if err != nil {
		return []interface{}{errorName(err), err.Error()}, false
	}
	return value, true
}

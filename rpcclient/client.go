// Package rpcclient implements the RPC client (C7): connect, call, and
// reconnect. A single background goroutine drains the session and
// correlates each response to its caller by id, so multiple calls can be
// in flight at once and are answered in whatever order their handlers
// finish on the server (spec §4.7, scenario E5). The pending-table design
// is grounded on pricillapb-contract/rpc/client.go's idCounter + respWait
// map, adapted from its dispatch-goroutine-plus-channel-ops shape to a
// mutex-guarded map paired with one dedicated reader, since this
// transport's Session.Recv already gives a blocking, serialized read path
// that a second dispatch goroutine would only add latency to.
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/iwalton3/urpc/internal/rpcwire"
	"github.com/iwalton3/urpc/transport"
	"github.com/iwalton3/urpc/wire"
)

// Args is the positional-argument list of an RPC call.
type Args = []interface{}

// Kwargs is the keyword-argument map of an RPC call.
type Kwargs = map[string]interface{}

// ErrClientClosed is returned by Call once the client has been closed.
var ErrClientClosed = errors.New("rpcclient: client is closed")

// dirMethod is the protocol-reserved directory method name (spec §4.6).
const dirMethod = "_dir"

// fireAndForget lists methods whose call completes as soon as the request
// is written, without waiting for a response: the device resets or
// restarts before it could reply, so waiting would just time out.
var fireAndForget = map[string]bool{
	"reset":      true,
	"soft_reset": true,
}

// RemoteError reports a handler-side failure delivered in-band as
// [error_name, error_message] (spec §4.6).
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

type response struct {
	success bool
	payload interface{}
	err     error
}

// Dialer opens the underlying transport connection. Connect calls it once;
// the reconnect policy calls it again at most once per broken connection.
type Dialer func() (net.Conn, error)

// Client is a connected urpc RPC client.
type Client struct {
	secret   []byte
	codec    wire.Codec
	dial     Dialer
	sessOpts []transport.Option
	log      log.Logger

	mu          sync.Mutex
	sess        *transport.Session
	idCounter   int64
	respWait    map[int64]chan response
	closed      bool
	reconnected bool

	methods map[string]bool
}

// Option configures a Client.
type Option func(*Client)

// WithCodec selects the wire codec; the default is MessagePack.
func WithCodec(codec wire.Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithSessionOptions forwards functional options to every transport.Session
// the client creates, e.g. transport.WithLifetime.
func WithSessionOptions(opts ...transport.Option) Option {
	return func(c *Client) { c.sessOpts = append(c.sessOpts, opts...) }
}

// Connect dials, performs the client handshake, and bootstraps the method
// directory via `_dir`. The reconnect policy is disabled for that
// bootstrap call: a first connection that cannot even complete `_dir`
// should surface as a dial error, not recurse into reconnecting itself.
func Connect(secret []byte, dial Dialer, opts ...Option) (*Client, error) {
	c := &Client{
		secret:   secret,
		codec:    wire.NewMsgPackCodec(),
		dial:     dial,
		respWait: make(map[int64]chan response),
		log:      log.New("module", "rpcclient"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	names, err := c.call(context.Background(), dirMethod, nil, nil, false)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("rpcclient: _dir bootstrap: %w", err)
	}
	list, _ := rpcwire.AsSlice(names)
	methods := make(map[string]bool, len(list))
	for _, n := range list {
		if s, ok := n.(string); ok {
			methods[s] = true
		}
	}

	c.mu.Lock()
	c.methods = methods
	c.mu.Unlock()

	return c, nil
}

func (c *Client) connect() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("rpcclient: dial: %w", err)
	}
	sess := transport.NewSession(conn, c.secret, c.sessOpts...)
	if err := sess.WriteMagic(transport.MagicCurrent); err != nil {
		sess.Close()
		return fmt.Errorf("rpcclient: write magic: %w", err)
	}
	if err := sess.ClientHandshake(); err != nil {
		sess.Close()
		return fmt.Errorf("rpcclient: handshake: %w", err)
	}

	c.mu.Lock()
	c.sess = sess
	c.reconnected = false
	c.mu.Unlock()

	go c.readLoop(sess)
	return nil
}

func (c *Client) readLoop(sess *transport.Session) {
	for {
		plaintext, err := sess.Recv()
		if err != nil {
			c.failPending(sess, err)
			return
		}

		id, success, payload, err := rpcwire.DecodeResponse(c.codec, plaintext)
		if err != nil {
			c.log.Debug("malformed response, closing session", "err", err)
			sess.Close()
			c.failPending(sess, err)
			return
		}

		c.mu.Lock()
		ch, ok := c.respWait[id]
		if ok {
			delete(c.respWait, id)
		}
		c.mu.Unlock()

		if !ok {
			// No one is waiting: either an unsolicited id, or the caller's
			// context was cancelled before this arrived. Drop it (property
			// 8 - a cancelled call never delivers a value).
			continue
		}
		ch <- response{success: success, payload: payload}
	}
}

func (c *Client) failPending(sess *transport.Session, err error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	waiters := c.respWait
	c.respWait = make(map[int64]chan response)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- response{err: err}
	}
}

// Call invokes method and waits for its result, reconnecting once and
// retrying if the connection was broken.
func (c *Client) Call(method string, args Args, kwargs Kwargs) (interface{}, error) {
	return c.call(context.Background(), method, args, kwargs, true)
}

// CallContext is Call with cancellation: if ctx is done before a response
// arrives, the pending entry is dropped so any late response is silently
// discarded rather than delivered to a caller who has moved on.
func (c *Client) CallContext(ctx context.Context, method string, args Args, kwargs Kwargs) (interface{}, error) {
	return c.call(ctx, method, args, kwargs, true)
}

func (c *Client) call(ctx context.Context, method string, args Args, kwargs Kwargs, allowReconnect bool) (interface{}, error) {
	result, err := c.attemptCall(ctx, method, args, kwargs)
	if err == nil {
		return result, nil
	}
	if !allowReconnect || !c.shouldReconnect() || ctx.Err() != nil {
		return nil, err
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		// The handler failed in-band; the connection itself is fine.
		return nil, err
	}
	if rerr := c.reconnectOnce(); rerr != nil {
		return nil, err
	}
	return c.attemptCall(ctx, method, args, kwargs)
}

func (c *Client) attemptCall(ctx context.Context, method string, args Args, kwargs Kwargs) (interface{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	sess := c.sess
	id := atomic.AddInt64(&c.idCounter, 1) - 1
	ch := make(chan response, 1)
	c.respWait[id] = ch
	c.mu.Unlock()

	req, err := rpcwire.EncodeRequest(c.codec, id, method, args, kwargs)
	if err != nil {
		c.dropWaiter(id)
		return nil, fmt.Errorf("rpcclient: encode request: %w", err)
	}

	if err := sess.Send(req); err != nil {
		c.dropWaiter(id)
		return nil, err
	}

	if fireAndForget[method] {
		c.dropWaiter(id)
		sess.Close()
		return true, nil
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, resp.err
		}
		if !resp.success {
			return nil, responseError(resp.payload)
		}
		return resp.payload, nil
	case <-ctx.Done():
		c.dropWaiter(id)
		return nil, ctx.Err()
	}
}

func (c *Client) dropWaiter(id int64) {
	c.mu.Lock()
	if c.respWait != nil {
		delete(c.respWait, id)
	}
	c.mu.Unlock()
}

func (c *Client) shouldReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.reconnected
}

func (c *Client) reconnectOnce() error {
	c.mu.Lock()
	if c.reconnected || c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.reconnected = true
	old := c.sess
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return c.connect()
}

func responseError(payload interface{}) error {
	pair, ok := rpcwire.AsSlice(payload)
	if ok && len(pair) == 2 {
		name, _ := pair[0].(string)
		msg, _ := pair[1].(string)
		return &RemoteError{Name: name, Message: msg}
	}
	return fmt.Errorf("rpcclient: call failed: %v", payload)
}

// Methods returns the method directory discovered at Connect time via
// `_dir`.
func (c *Client) Methods() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.methods))
	for k := range c.methods {
		out[k] = true
	}
	return out
}

// Close closes the underlying session and unblocks any pending calls with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.sess
	waiters := c.respWait
	c.respWait = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- response{err: ErrClientClosed}
	}
	if sess != nil {
		return sess.Close()
	}
	return nil
}

package cdp

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karatelabs/wsdriver/ws"
)

// DefaultTimeout is the default per-command timeout.
const DefaultTimeout = 30 * time.Second

// defaultMaxPayload allows for large responses such as screenshots.
const defaultMaxPayload = 16 << 20

// reaperInterval is the cadence of the pending-request timeout sweep.
const reaperInterval = 25 * time.Millisecond

// Transport is the connection contract the correlator needs. *ws.Client
// satisfies it; tests substitute fakes.
type Transport interface {
	Send(f ws.Frame) error
	OnMessage(fn func(ws.Frame))
	OnClose(fn func())
	OnError(fn func(error))
	IsOpen() bool
	Close() error
	CloseNow() error
}

// Options configures a correlator client.
type Options struct {
	// DefaultTimeout applies to commands without a per-call timeout.
	// Defaults to 30s.
	DefaultTimeout time.Duration

	// MaxPayloadSize limits inbound message size when the client dials its
	// own connection. Defaults to 16 MiB.
	MaxPayloadSize int64

	// Dispatcher overrides the connection's callback executor.
	Dispatcher ws.Dispatcher

	// Registry, when non-nil, tracks the underlying connection.
	Registry *ws.Registry

	// Logger receives correlation diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxPayloadSize <= 0 {
		o.MaxPayloadSize = defaultMaxPayload
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Call is a pending CDP command. It resolves exactly once: with the matching
// response, with a timeout, or with a connection-closed error.
type Call struct {
	id       int64
	method   string
	deadline time.Time
	done     chan struct{}
	once     sync.Once
	resp     *Response
	err      error
}

// ID returns the correlation id assigned to this call.
func (c *Call) ID() int64 {
	return c.id
}

// Done returns a channel closed when the call resolves.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call resolves. For error responses both the response
// and a *CommandError are returned; transport failures and timeouts are
// classifiable with ws.IsTimeout and ws.IsConnectionClosed.
func (c *Call) Wait() (*Response, error) {
	<-c.done
	return c.resp, c.err
}

func (c *Call) resolve(resp *Response, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
	})
}

// Subscription is one event handler registration. Handlers are identified by
// their subscription, so the same function can be registered more than once
// and removed individually.
type Subscription struct {
	client *Client
	method string
	fn     func(Event)
}

// Off removes exactly this registration. Safe to call more than once.
func (s *Subscription) Off() {
	s.client.off(s)
}

// Client correlates CDP requests to responses over one connection and routes
// unsolicited events to per-method subscribers. Ids are strictly increasing
// for the client's lifetime; there is no reconnection — a new connection
// requires a new Client.
type Client struct {
	transport      Transport
	logger         *slog.Logger
	defaultTimeout time.Duration

	nextID  atomic.Int64
	pending sync.Map // int64 -> *Call

	subsMu sync.Mutex
	subs   map[string][]*Subscription

	sessionMu sync.Mutex
	sessionID string

	closed    chan struct{}
	closeOnce sync.Once
}

// Connect dials a CDP endpoint and returns a correlator that exclusively
// owns the connection. Keepalive pings are disabled; CDP traffic is its own
// liveness signal.
func Connect(ctx context.Context, url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	transport, err := ws.Dial(ctx, ws.ClientOptions{
		URL:            url,
		DisablePing:    true,
		MaxPayloadSize: opts.MaxPayloadSize,
		Dispatcher:     opts.Dispatcher,
		Registry:       opts.Registry,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewClient(transport, opts), nil
}

// NewClient wraps an already-open transport. The client assumes ownership:
// closing the client closes the transport.
func NewClient(transport Transport, opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		transport:      transport,
		logger:         opts.Logger,
		defaultTimeout: opts.DefaultTimeout,
		subs:           make(map[string][]*Subscription),
		closed:         make(chan struct{}),
	}
	transport.OnMessage(c.handleFrame)
	transport.OnClose(func() {
		c.failAllPending(ws.NewError(ws.KindConnectionClosed, "websocket closed", nil))
	})
	transport.OnError(func(err error) {
		c.logger.Error("cdp connection error", "error", err)
	})
	go c.reap()
	return c
}

// Method starts a command builder. The current session id, if any, is
// attached; ids are assigned at send time.
func (c *Client) Method(name string) *Message {
	return &Message{client: c, method: name, sessionID: c.SessionID()}
}

// BrowserMethod starts a command builder without a session id, for
// browser-level commands such as Target.* that must not be session-scoped.
func (c *Client) BrowserMethod(name string) *Message {
	return &Message{client: c, method: name}
}

// SessionID returns the session id attached to subsequent commands.
func (c *Client) SessionID() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.sessionID
}

// SetSessionID changes the session id attached to subsequent commands.
// Used when switching between page targets.
func (c *Client) SetSessionID(id string) {
	c.sessionMu.Lock()
	c.sessionID = id
	c.sessionMu.Unlock()
}

// On subscribes a handler to events with exactly the given method name.
// Handlers run in registration order; a panicking handler is recovered and
// does not prevent later handlers from running.
func (c *Client) On(method string, fn func(Event)) *Subscription {
	sub := &Subscription{client: c, method: method, fn: fn}
	c.subsMu.Lock()
	c.subs[method] = append(c.subs[method], sub)
	c.subsMu.Unlock()
	return sub
}

// OffAll removes every handler for an event method.
func (c *Client) OffAll(method string) {
	c.subsMu.Lock()
	delete(c.subs, method)
	c.subsMu.Unlock()
}

func (c *Client) off(sub *Subscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	list := c.subs[sub.method]
	next := make([]*Subscription, 0, len(list))
	for _, s := range list {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(c.subs, sub.method)
	} else {
		c.subs[sub.method] = next
	}
}

// IsOpen reports whether the underlying connection accepts sends.
func (c *Client) IsOpen() bool {
	return c.transport.IsOpen()
}

// Close gracefully closes the owned connection. Every pending call resolves
// with a connection-closed error before Close returns.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.transport.Close()
		c.failAllPending(ws.NewError(ws.KindConnectionClosed, "websocket closed", nil))
	})
	return err
}

// CloseNow tears the owned connection down immediately.
func (c *Client) CloseNow() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.transport.CloseNow()
		c.failAllPending(ws.NewError(ws.KindConnectionClosed, "websocket closed", nil))
	})
	return err
}

// send is the blocking mode: register, write, wait.
func (c *Client) send(m *Message) (*Response, error) {
	return c.sendAsync(m).Wait()
}

// sendAsync registers a pending call and writes the command. The call
// resolves from the demux loop, the reaper, or connection close.
func (c *Client) sendAsync(m *Message) *Call {
	id := c.nextID.Add(1)
	timeout := m.timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	call := &Call{
		id:       id,
		method:   m.method,
		deadline: time.Now().Add(timeout),
		done:     make(chan struct{}),
	}

	if !c.transport.IsOpen() {
		call.resolve(nil, ws.NewError(ws.KindConnectionClosed, "websocket is not open", nil))
		return call
	}

	data, err := m.encode(id)
	if err != nil {
		call.resolve(nil, ws.NewError(ws.KindProtocol, "failed to encode request", err))
		return call
	}

	c.pending.Store(id, call)
	c.logger.Debug("cdp send", "id", id, "method", m.method)

	if err := c.transport.Send(ws.Text(string(data))); err != nil {
		if _, ok := c.pending.LoadAndDelete(id); ok {
			call.resolve(nil, err)
		}
	}
	return call
}

// sendWithoutWaiting writes the command with a fresh id but no pending
// registration; a later response with that id is unmatched by construction.
func (c *Client) sendWithoutWaiting(m *Message) error {
	id := c.nextID.Add(1)
	data, err := m.encode(id)
	if err != nil {
		return ws.NewError(ws.KindProtocol, "failed to encode request", err)
	}
	c.logger.Debug("cdp send without waiting", "id", id, "method", m.method)
	return c.transport.Send(ws.Text(string(data)))
}

// handleFrame demultiplexes one inbound frame: responses resolve their
// pending call, events fan out to subscribers, everything else is logged and
// dropped. Runs on the connection's dispatcher, never on the I/O goroutine.
func (c *Client) handleFrame(f ws.Frame) {
	if !f.IsText() {
		return
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(f.Text()), &body); err != nil {
		c.logger.Error("failed to parse cdp message", "error", err)
		return
	}

	if _, ok := body["id"]; ok {
		resp := newResponse(body)
		v, ok := c.pending.LoadAndDelete(resp.ID())
		if !ok {
			c.logger.Warn("dropped response for unknown request id", "id", resp.ID())
			return
		}
		call := v.(*Call)
		if resp.IsError() {
			call.resolve(resp, resp.Err())
		} else {
			call.resolve(resp, nil)
		}
		return
	}

	if method, ok := body["method"].(string); ok {
		params, _ := body["params"].(map[string]any)
		c.dispatchEvent(Event{Method: method, Params: params})
		return
	}

	c.logger.Warn("dropped unrecognized cdp message")
}

func (c *Client) dispatchEvent(evt Event) {
	c.subsMu.Lock()
	subs := slices.Clone(c.subs[evt.Method])
	c.subsMu.Unlock()

	for _, sub := range subs {
		c.invoke(sub, evt)
	}
}

func (c *Client) invoke(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panic", "method", evt.Method, "panic", r)
		}
	}()
	sub.fn(evt)
}

// reap fails timed-out pending calls on a fixed cadence, independent of
// connection health.
func (c *Client) reap() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.pending.Range(func(key, value any) bool {
				call := value.(*Call)
				if now.After(call.deadline) {
					if _, ok := c.pending.LoadAndDelete(key); ok {
						c.logger.Debug("cdp request timed out", "id", call.id, "method", call.method)
						call.resolve(nil, ws.NewError(ws.KindTimeout, "request timed out: "+call.method, nil))
					}
				}
				return true
			})
		case <-c.closed:
			return
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pending.Range(func(key, value any) bool {
		if v, ok := c.pending.LoadAndDelete(key); ok {
			v.(*Call).resolve(nil, err)
		}
		return true
	})
}

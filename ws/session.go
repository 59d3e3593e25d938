package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// ConnectionState is the forward-only lifecycle of a connection.
// There is no reopening; a closed connection stays closed.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// writeTimeout bounds a single frame write.
const writeTimeout = 30 * time.Second

// Tracked is the handle returned by SendTracked. The transport never
// interprets the payload; a higher layer completes or fails the handle
// itself. If the connection closes first, the handle fails with a
// connection-closed error exactly once.
type Tracked struct {
	s    *session
	done chan struct{}
	once sync.Once
	err  error
}

// Done returns a channel closed when the handle reaches a terminal state.
func (t *Tracked) Done() <-chan struct{} {
	return t.done
}

// Err returns the terminal error. Only valid after Done is closed;
// nil means the handle was completed successfully.
func (t *Tracked) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Complete marks the handle successful. Later transitions are no-ops.
func (t *Tracked) Complete() {
	t.finish(nil)
}

// Fail marks the handle failed. Later transitions are no-ops.
func (t *Tracked) Fail(err error) {
	t.finish(err)
}

func (t *Tracked) finish(err error) {
	t.once.Do(func() {
		t.err = err
		t.s.untrack(t)
		close(t.done)
	})
}

// session is the frame I/O core shared by client and server connections:
// read loop, listener fan-out, keepalive, and the close sequence.
// All user callbacks run on the dispatcher, never on the I/O goroutine.
type session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	dispatcher     Dispatcher
	ownsDispatcher bool
	registry       *Registry
	owner          Closer

	state atomic.Int32

	writeMu sync.Mutex

	listenerMu     sync.Mutex
	msgListeners   []func(Frame)
	closeListeners []func()
	errListeners   []func(error)

	trackedMu sync.Mutex
	tracked   map[*Tracked]struct{}

	closed chan struct{}
	once   sync.Once
}

func newSession(conn *websocket.Conn, logger *slog.Logger, dispatcher Dispatcher, ownsDispatcher bool) *session {
	s := &session{
		conn:           conn,
		logger:         logger,
		dispatcher:     dispatcher,
		ownsDispatcher: ownsDispatcher,
		tracked:        make(map[*Tracked]struct{}),
		closed:         make(chan struct{}),
	}
	s.state.Store(int32(StateOpen))
	return s
}

// State returns the current connection state.
func (s *session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// IsOpen reports whether the connection accepts sends.
func (s *session) IsOpen() bool {
	return s.State() == StateOpen
}

// WaitSync blocks the calling goroutine until the connection is closed.
func (s *session) WaitSync() {
	<-s.closed
}

// OnMessage registers a listener for inbound text and binary frames.
// Multiple listeners may be registered; all are invoked. A listener panic is
// recovered and logged and does not deregister the listener.
func (s *session) OnMessage(fn func(Frame)) {
	s.listenerMu.Lock()
	s.msgListeners = append(s.msgListeners, fn)
	s.listenerMu.Unlock()
}

// OnClose registers a listener invoked exactly once when the connection
// reaches the closed state, whether the close was local, remote, or
// error-triggered.
func (s *session) OnClose(fn func()) {
	s.listenerMu.Lock()
	s.closeListeners = append(s.closeListeners, fn)
	s.listenerMu.Unlock()
}

// OnError registers a listener for post-connect transport failures.
func (s *session) OnError(fn func(error)) {
	s.listenerMu.Lock()
	s.errListeners = append(s.errListeners, fn)
	s.listenerMu.Unlock()
}

// Send writes one frame, fire-and-forget. Safe for concurrent use; two sends
// issued sequentially by the same caller are delivered in that order.
func (s *session) Send(f Frame) error {
	if !s.IsOpen() {
		return errConnectionClosed("websocket is not open")
	}
	switch f.Kind() {
	case FrameText:
		return s.write(websocket.MessageText, []byte(f.text))
	case FrameBinary:
		return s.write(websocket.MessageBinary, f.data)
	case FramePing:
		// Ping round-trips to the matching pong; run it off the caller.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := s.conn.Ping(ctx); err != nil && s.IsOpen() {
				s.logger.Debug("ping failed", "error", err)
			}
		}()
		return nil
	case FramePong:
		// The transport answers inbound pings automatically with a pong
		// carrying the identical payload; unsolicited pongs are a no-op.
		return nil
	case FrameClose:
		go func() { _ = s.closeGraceful(f.closeCode, f.closeReason) }()
		return nil
	default:
		return errProtocol("unknown frame kind", nil)
	}
}

// SendTracked writes one frame and returns a handle a higher layer can
// correlate a later inbound message to. The handle fails with a
// connection-closed error if the connection closes before completion.
func (s *session) SendTracked(f Frame) (*Tracked, error) {
	t := &Tracked{s: s, done: make(chan struct{})}
	s.trackedMu.Lock()
	s.tracked[t] = struct{}{}
	s.trackedMu.Unlock()

	if err := s.Send(f); err != nil {
		t.finish(err)
		return nil, err
	}
	return t, nil
}

func (s *session) untrack(t *Tracked) {
	s.trackedMu.Lock()
	delete(s.tracked, t)
	s.trackedMu.Unlock()
}

func (s *session) write(typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	s.writeMu.Lock()
	err := s.conn.Write(ctx, typ, data)
	s.writeMu.Unlock()
	if err != nil {
		if !s.IsOpen() {
			return errConnectionClosed("websocket is not open")
		}
		return errSendFailed("write failed", err)
	}
	return nil
}

// Ping sends a ping and blocks until the matching pong arrives or ctx ends.
func (s *session) Ping(ctx context.Context) error {
	if !s.IsOpen() {
		return errConnectionClosed("websocket is not open")
	}
	if err := s.conn.Ping(ctx); err != nil {
		return errSendFailed("ping failed", err)
	}
	return nil
}

// readLoop pumps inbound frames until the connection dies. Decoded frames
// are handed to the dispatcher; the loop itself never runs user code.
func (s *session) readLoop() {
	for {
		typ, data, err := s.conn.Read(context.Background())
		if err != nil {
			s.readEnded(err)
			return
		}
		var f Frame
		if typ == websocket.MessageText {
			f = Text(string(data))
		} else {
			f = Binary(data)
		}
		s.dispatchMessage(f)
	}
}

func (s *session) readEnded(err error) {
	if s.State() >= StateClosing {
		// Local close in progress; converge silently.
		s.finishClose()
		return
	}
	if status := websocket.CloseStatus(err); status != -1 {
		s.logger.Debug("websocket closed by peer", "status", int(status))
	} else {
		s.dispatchError(NewError(KindConnectionClosed, "read failed", err))
	}
	s.finishClose()
}

// keepalive pings the peer on a fixed cadence until close or ping failure.
func (s *session) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				if s.IsOpen() {
					s.dispatchError(errSendFailed("keepalive ping failed", err))
				}
				return
			}
		case <-s.closed:
			return
		}
	}
}

// closeGraceful sends a close frame and waits briefly for the peer to
// acknowledge before tearing down the transport.
func (s *session) closeGraceful(code int, reason string) error {
	if s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		_ = s.conn.Close(websocket.StatusCode(code), reason)
	}
	<-s.closed
	return nil
}

// closeNow tears down the transport immediately.
func (s *session) closeNow() error {
	s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	_ = s.conn.CloseNow()
	<-s.closed
	return nil
}

// finishClose is the single terminal transition: it runs exactly once no
// matter how the close was triggered. Pending tracked sends fail before the
// closed channel is published so WaitSync callers observe a settled state.
func (s *session) finishClose() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		s.failTracked()
		if s.registry != nil {
			s.registry.remove(s.owner)
		}
		s.dispatchClose()
		close(s.closed)
		if s.ownsDispatcher {
			s.dispatcher.Close()
		}
	})
}

func (s *session) failTracked() {
	s.trackedMu.Lock()
	snapshot := make([]*Tracked, 0, len(s.tracked))
	for t := range s.tracked {
		snapshot = append(snapshot, t)
	}
	s.trackedMu.Unlock()

	for _, t := range snapshot {
		t.Fail(errConnectionClosed("connection closed"))
	}
}

func (s *session) dispatchMessage(f Frame) {
	s.listenerMu.Lock()
	listeners := make([]func(Frame), len(s.msgListeners))
	copy(listeners, s.msgListeners)
	s.listenerMu.Unlock()

	for _, l := range listeners {
		l := l
		s.dispatcher.Dispatch(func() { l(f) })
	}
}

func (s *session) dispatchClose() {
	s.listenerMu.Lock()
	listeners := make([]func(), len(s.closeListeners))
	copy(listeners, s.closeListeners)
	s.listenerMu.Unlock()

	for _, l := range listeners {
		l := l
		s.dispatcher.Dispatch(l)
	}
}

func (s *session) dispatchError(err error) {
	s.listenerMu.Lock()
	listeners := make([]func(error), len(s.errListeners))
	copy(listeners, s.errListeners)
	s.listenerMu.Unlock()

	for _, l := range listeners {
		l := l
		s.dispatcher.Dispatch(func() { l(err) })
	}
}

package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

// stopTimeout bounds the graceful drain of in-flight upgrade handlers.
const stopTimeout = 10 * time.Second

// ServerConn is one accepted WebSocket session. It carries the same
// send/listen/close contract as a Client plus a stable identifier.
// Session or auth state beyond connected/disconnected is the accept
// callback's business; the server only delivers frames and lifecycle events.
type ServerConn struct {
	*session
	id     string
	remote string
}

// ID returns the stable per-connection identifier.
func (c *ServerConn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address as reported by the HTTP layer.
func (c *ServerConn) RemoteAddr() string {
	return c.remote
}

// Close initiates a close handshake and waits for the closed state.
func (c *ServerConn) Close() error {
	return c.session.closeGraceful(1000, "")
}

// CloseNow tears down the transport immediately.
func (c *ServerConn) CloseNow() error {
	return c.session.closeNow()
}

// Server accepts inbound WebSocket sessions on a single upgrade path.
type Server struct {
	opts       ServerOptions
	httpSrv    *http.Server
	listener   net.Listener
	onAccept   func(*ServerConn)
	dispatcher Dispatcher
	ownsDisp   bool

	mu    sync.Mutex
	conns map[*ServerConn]struct{}

	stopOnce sync.Once
	stopping chan struct{}
	stopped  chan struct{}
}

// Serve binds a listening socket and accepts WebSocket upgrades on the
// configured path, invoking onAccept once per successful upgrade. It returns
// as soon as the socket is bound; accepting happens in the background.
func Serve(opts ServerOptions, onAccept func(*ServerConn)) (*Server, error) {
	opts = opts.withDefaults()
	if onAccept == nil {
		return nil, fmt.Errorf("onAccept is required")
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	dispatcher := opts.Dispatcher
	ownsDisp := false
	if dispatcher == nil {
		dispatcher = newDispatcher(defaultCallbackWorkers, opts.Logger)
		ownsDisp = true
	}

	s := &Server{
		opts:       opts,
		listener:   listener,
		onAccept:   onAccept,
		dispatcher: dispatcher,
		ownsDisp:   ownsDisp,
		conns:      make(map[*ServerConn]struct{}),
		stopping:   make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}

	if opts.Registry != nil {
		opts.Registry.add(s)
	}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error("websocket server stopped", "error", err)
		}
	}()

	opts.Logger.Debug("websocket server listening", "addr", s.Addr().String(), "path", opts.Path)
	return s, nil
}

// Addr returns the bound address, useful with ephemeral ports.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// URL returns the ws:// URL clients should dial.
func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s%s", s.listener.Addr().String(), s.opts.Path)
}

// handleUpgrade runs one connection for the lifetime of its read loop so the
// HTTP server's drain semantics cover live sessions.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       s.opts.Subprotocols,
		InsecureSkipVerify: true, // origin checks are the caller's policy, not this layer's
		CompressionMode:    compressionMode(s.opts.Compression),
	})
	if err != nil {
		s.opts.Logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.opts.MaxPayloadSize)

	sc := &ServerConn{
		session: newSession(conn, s.opts.Logger, s.dispatcher, false),
		id:      ulid.Make().String(),
		remote:  r.RemoteAddr,
	}
	sc.session.owner = sc

	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.mu.Unlock()
	sc.OnClose(func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
	})

	// A connection may sneak in between the stop snapshot and the listener
	// closing; don't let it outlive the server. The read loop still runs so
	// the session converges on its normal close sequence.
	select {
	case <-s.stopping:
		_ = conn.CloseNow()
		sc.session.readLoop()
		return
	default:
	}

	s.opts.Logger.Debug("websocket accepted", "id", sc.id, "remote", sc.remote)
	s.onAccept(sc)
	sc.session.readLoop()
}

func compressionMode(enabled bool) websocket.CompressionMode {
	if enabled {
		return websocket.CompressionNoContextTakeover
	}
	return websocket.CompressionDisabled
}

// Connections returns a snapshot of the currently open connections.
func (s *Server) Connections() []*ServerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// StopAndWait gracefully closes every open connection, stops the listening
// socket, and waits for in-flight handlers to drain. Safe to call multiple
// times.
func (s *Server) StopAndWait() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopping)
		for _, c := range s.Connections() {
			_ = c.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		err = s.httpSrv.Shutdown(ctx)
		// Anything still open after the drain deadline is torn down hard.
		for _, c := range s.Connections() {
			_ = c.CloseNow()
		}
		s.finishStop()
	})
	<-s.stopped
	return err
}

// StopAsync tears down every open connection and the listening socket
// immediately, without waiting for peer acknowledgment.
func (s *Server) StopAsync() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopping)
		for _, c := range s.Connections() {
			_ = c.CloseNow()
		}
		err = s.httpSrv.Close()
		s.finishStop()
	})
	return err
}

// CloseNow makes Server satisfy the registry member contract.
func (s *Server) CloseNow() error {
	return s.StopAsync()
}

func (s *Server) finishStop() {
	if s.opts.Registry != nil {
		s.opts.Registry.remove(s)
	}
	if s.ownsDisp {
		s.dispatcher.Close()
	}
	close(s.stopped)
	s.opts.Logger.Debug("websocket server stopped", "addr", s.listener.Addr().String())
}

package ws

import (
	"context"
	"crypto/tls"
	"net/http"
	"slices"

	"github.com/coder/websocket"
)

// Client is one outbound WebSocket session. All user callbacks run on the
// configured dispatcher; see Dispatcher for the ordering and backpressure
// caveats.
type Client struct {
	*session
	url         string
	subprotocol string
}

// Dial opens a WebSocket connection. Handshake, TLS, and subprotocol
// negotiation failures are reported synchronously as a connect-failed or
// protocol error; after Dial returns, failures surface only through OnError
// listeners and failed tracked sends.
func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, errConnectFailed("invalid options", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	dialOpts := &websocket.DialOptions{
		HTTPHeader:   opts.Header,
		Subprotocols: opts.Subprotocols,
	}
	if opts.Compression {
		dialOpts.CompressionMode = websocket.CompressionNoContextTakeover
	}
	if opts.secure() {
		tlsConfig := opts.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{InsecureSkipVerify: !opts.VerifyCerts}
		}
		dialOpts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}
	}

	conn, _, err := websocket.Dial(ctx, opts.URL, dialOpts)
	if err != nil {
		return nil, errConnectFailed("websocket handshake failed", err)
	}
	conn.SetReadLimit(opts.MaxPayloadSize)

	// Subprotocol negotiation is validated after the handshake: a server
	// that ignores or rejects the requested subprotocol fails the connect.
	negotiated := conn.Subprotocol()
	if len(opts.Subprotocols) > 0 && !slices.Contains(opts.Subprotocols, negotiated) {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol mismatch")
		return nil, errProtocol("server did not accept subprotocol "+opts.Subprotocols[0], nil)
	}

	dispatcher := opts.Dispatcher
	ownsDispatcher := false
	if dispatcher == nil {
		dispatcher = newDispatcher(defaultCallbackWorkers, opts.Logger)
		ownsDispatcher = true
	}

	c := &Client{
		session:     newSession(conn, opts.Logger, dispatcher, ownsDispatcher),
		url:         opts.URL,
		subprotocol: negotiated,
	}
	c.session.owner = c
	if opts.Registry != nil {
		c.session.registry = opts.Registry
		opts.Registry.add(c)
	}

	go c.session.readLoop()
	if !opts.DisablePing {
		go c.session.keepalive(opts.PingInterval)
	}

	opts.Logger.Debug("websocket connected", "url", opts.URL)
	return c, nil
}

// URL returns the endpoint this client connected to.
func (c *Client) URL() string {
	return c.url
}

// Subprotocol returns the negotiated subprotocol, empty if none.
func (c *Client) Subprotocol() string {
	return c.subprotocol
}

// Close initiates a close handshake and waits for the connection to reach
// the closed state. Pending tracked sends fail with a connection-closed
// error before Close returns.
func (c *Client) Close() error {
	return c.session.closeGraceful(1000, "")
}

// CloseNow tears down the transport immediately without waiting for peer
// acknowledgment. Terminal behavior is identical to Close.
func (c *Client) CloseNow() error {
	return c.session.closeNow()
}

package ws

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultMaxPayloadSize is the default inbound message size limit.
	DefaultMaxPayloadSize = 1 << 20 // 1 MiB

	// DefaultConnectTimeout bounds the dial and handshake.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultPingInterval is the default keepalive cadence.
	DefaultPingInterval = 30 * time.Second

	defaultCallbackWorkers = 4
)

// ClientOptions configures an outbound WebSocket connection.
// The zero value is usable once URL is set; defaults are applied by Dial.
type ClientOptions struct {
	// URL is the ws:// or wss:// endpoint. Required.
	URL string

	// Header holds extra headers sent with the handshake request.
	Header http.Header

	// Subprotocols are offered during the handshake. If non-empty and the
	// server does not select one of them, Dial fails with a protocol error.
	Subprotocols []string

	// Compression enables permessage-deflate negotiation.
	Compression bool

	// MaxPayloadSize limits inbound message size. Defaults to 1 MiB.
	MaxPayloadSize int64

	// ConnectTimeout bounds the handshake. Defaults to 30s.
	ConnectTimeout time.Duration

	// PingInterval is the keepalive cadence. Defaults to 30s.
	// Set DisablePing to turn keepalive off.
	PingInterval time.Duration

	// DisablePing turns the keepalive ping loop off.
	DisablePing bool

	// VerifyCerts enables TLS certificate verification for wss endpoints.
	// The default accepts any certificate, which suits test automation
	// against local browsers and self-signed targets.
	VerifyCerts bool

	// TLSConfig overrides the TLS trust policy for wss endpoints.
	// When set, VerifyCerts is ignored.
	TLSConfig *tls.Config

	// Dispatcher runs all user callbacks. When nil the connection creates
	// and owns a private pool; a supplied dispatcher is owned by the caller.
	Dispatcher Dispatcher

	// Registry, when non-nil, tracks the connection for bulk shutdown.
	Registry *Registry

	// Logger receives transport diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o ClientOptions) withDefaults() (ClientOptions, error) {
	if o.URL == "" {
		return o, fmt.Errorf("URL is required")
	}
	u, err := url.Parse(o.URL)
	if err != nil {
		return o, fmt.Errorf("invalid URL %q: %w", o.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return o, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if o.MaxPayloadSize <= 0 {
		o.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

func (o ClientOptions) secure() bool {
	u, err := url.Parse(o.URL)
	if err != nil {
		return false
	}
	return u.Scheme == "wss" || u.Scheme == "https"
}

// ServerOptions configures a WebSocket listener.
type ServerOptions struct {
	// Host is the bind host. Defaults to "localhost".
	Host string

	// Port is the bind port. Zero picks an ephemeral port.
	Port int

	// Path is the upgrade path. Defaults to "/".
	Path string

	// Subprotocols the server is willing to select from client offers.
	Subprotocols []string

	// Compression enables permessage-deflate negotiation.
	Compression bool

	// MaxPayloadSize limits inbound message size. Defaults to 1 MiB.
	MaxPayloadSize int64

	// Dispatcher runs user callbacks for every accepted connection. When nil
	// the server creates one shared pool and closes it on stop.
	Dispatcher Dispatcher

	// Registry, when non-nil, tracks the server for bulk shutdown.
	Registry *Registry

	// Logger receives transport diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.MaxPayloadSize <= 0 {
		o.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

package ws

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport-level failures.
type ErrorKind int

const (
	// KindConnectFailed indicates a DNS, TCP, TLS, or handshake failure.
	KindConnectFailed ErrorKind = iota + 1
	// KindConnectionClosed indicates the connection closed while work was pending.
	KindConnectionClosed
	// KindTimeout indicates a per-request deadline was exceeded.
	KindTimeout
	// KindProtocol indicates a protocol violation such as a subprotocol
	// mismatch or an unparseable message.
	KindProtocol
	// KindSendFailed indicates a transport-level write failure.
	KindSendFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectFailed:
		return "connect failed"
	case KindConnectionClosed:
		return "connection closed"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol error"
	case KindSendFailed:
		return "send failed"
	default:
		return "unknown"
	}
}

// Error is a tagged WebSocket transport error.
type Error struct {
	Kind  ErrorKind
	msg   string
	cause error
}

// NewError creates an Error with the given kind, message, and optional cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsTimeout reports whether err is a transport error of kind KindTimeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}

// IsConnectionClosed reports whether err is a transport error of kind
// KindConnectionClosed.
func IsConnectionClosed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConnectionClosed
}

func errConnectFailed(msg string, cause error) *Error {
	return NewError(KindConnectFailed, msg, cause)
}

func errConnectionClosed(msg string) *Error {
	return NewError(KindConnectionClosed, msg, nil)
}

func errProtocol(msg string, cause error) *Error {
	return NewError(KindProtocol, msg, cause)
}

func errSendFailed(msg string, cause error) *Error {
	return NewError(KindSendFailed, msg, cause)
}

// Package ws provides a protocol-agnostic WebSocket client and server with
// listener-based callbacks, keepalive, and graceful or forced shutdown.
package ws

import "fmt"

// FrameKind identifies the type of a WebSocket frame.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "TEXT"
	case FrameBinary:
		return "BINARY"
	case FramePing:
		return "PING"
	case FramePong:
		return "PONG"
	case FrameClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Frame is an immutable WebSocket message: text, binary, ping, pong,
// or close with an optional status code and reason.
// Exactly one payload field is meaningful per kind.
type Frame struct {
	kind        FrameKind
	text        string
	data        []byte
	closeCode   int
	closeReason string
}

// Text creates a text frame.
func Text(content string) Frame {
	return Frame{kind: FrameText, text: content}
}

// Binary creates a binary frame. The payload is copied.
func Binary(content []byte) Frame {
	data := make([]byte, len(content))
	copy(data, content)
	return Frame{kind: FrameBinary, data: data}
}

// Ping creates a ping frame.
func Ping() Frame {
	return Frame{kind: FramePing}
}

// Pong creates a pong frame.
func Pong() Frame {
	return Frame{kind: FramePong}
}

// Close creates a close frame with status code 1000 (normal closure).
func Close() Frame {
	return Frame{kind: FrameClose, closeCode: 1000}
}

// CloseWith creates a close frame with the given status code and reason.
func CloseWith(code int, reason string) Frame {
	return Frame{kind: FrameClose, closeCode: code, closeReason: reason}
}

// Kind returns the frame kind.
func (f Frame) Kind() FrameKind {
	return f.kind
}

func (f Frame) IsText() bool   { return f.kind == FrameText }
func (f Frame) IsBinary() bool { return f.kind == FrameBinary }
func (f Frame) IsPing() bool   { return f.kind == FramePing }
func (f Frame) IsPong() bool   { return f.kind == FramePong }
func (f Frame) IsClose() bool  { return f.kind == FrameClose }

// Text returns the text payload. Empty unless the frame is a text frame.
func (f Frame) Text() string {
	return f.text
}

// Binary returns a copy of the binary payload.
func (f Frame) Binary() []byte {
	if f.data == nil {
		return nil
	}
	data := make([]byte, len(f.data))
	copy(data, f.data)
	return data
}

// CloseCode returns the close status code. Zero unless the frame is a close frame.
func (f Frame) CloseCode() int {
	return f.closeCode
}

// CloseReason returns the close reason. Empty unless the frame is a close frame.
func (f Frame) CloseReason() string {
	return f.closeReason
}

func (f Frame) String() string {
	switch f.kind {
	case FrameText:
		return fmt.Sprintf("Frame[TEXT: %s]", truncate(f.text, 100))
	case FrameBinary:
		return fmt.Sprintf("Frame[BINARY: %d bytes]", len(f.data))
	case FramePing:
		return "Frame[PING]"
	case FramePong:
		return "Frame[PONG]"
	case FrameClose:
		if f.closeReason != "" {
			return fmt.Sprintf("Frame[CLOSE: %d %s]", f.closeCode, f.closeReason)
		}
		return fmt.Sprintf("Frame[CLOSE: %d]", f.closeCode)
	default:
		return "Frame[UNKNOWN]"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Package cdp layers Chrome DevTools Protocol request/response/event
// correlation over a WebSocket connection: monotonic request ids, pending
// request tracking, per-method event subscription, and a fluent message
// builder with blocking, future-based, and fire-and-forget send modes.
package cdp

import (
	"encoding/json"
	"time"
)

// wireRequest is the outbound CDP message shape.
type wireRequest struct {
	ID        int64          `json:"id"`
	Method    string         `json:"method"`
	Params    map[string]any `json:"params,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

// Message is a fluent builder for one CDP command. It accumulates params and
// a per-call timeout locally; the shared id counter is only touched at the
// moment of send.
type Message struct {
	client    *Client
	method    string
	params    map[string]any
	timeout   time.Duration
	sessionID string
}

// Param adds a single parameter.
func (m *Message) Param(key string, value any) *Message {
	if m.params == nil {
		m.params = make(map[string]any)
	}
	m.params[key] = value
	return m
}

// Params merges a parameter map.
func (m *Message) Params(params map[string]any) *Message {
	for k, v := range params {
		m.Param(k, v)
	}
	return m
}

// Timeout overrides the client default timeout for this call.
func (m *Message) Timeout(d time.Duration) *Message {
	m.timeout = d
	return m
}

// SessionID targets the command at a specific CDP session.
func (m *Message) SessionID(id string) *Message {
	m.sessionID = id
	return m
}

// Method returns the command method name.
func (m *Message) Method() string {
	return m.method
}

// Send blocks the calling goroutine until the matching response arrives, the
// per-call (or default) timeout elapses, or the connection closes. The error
// is classifiable with ws.IsTimeout and ws.IsConnectionClosed.
func (m *Message) Send() (*Response, error) {
	return m.client.send(m)
}

// SendAsync registers the pending request and returns immediately with a
// Call the caller resolves later.
func (m *Message) SendAsync() *Call {
	return m.client.sendAsync(m)
}

// SendWithoutWaiting writes the command without registering a pending
// request. Any later response with this id is unmatched by construction and
// will be logged and dropped; there is no error channel beyond the write
// itself.
func (m *Message) SendWithoutWaiting() error {
	return m.client.sendWithoutWaiting(m)
}

func (m *Message) encode(id int64) ([]byte, error) {
	return json.Marshal(wireRequest{
		ID:        id,
		Method:    m.method,
		Params:    m.params,
		SessionID: m.sessionID,
	})
}

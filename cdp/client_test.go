package cdp

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/karatelabs/wsdriver/ws"
)

// fakeTransport implements Transport for tests. An optional onWrite hook
// scripts the peer's behavior for each outbound frame.
type fakeTransport struct {
	mu             sync.Mutex
	msgListeners   []func(ws.Frame)
	closeListeners []func()
	errListeners   []func(error)
	written        []ws.Frame
	open           bool
	closeOnce      sync.Once
	onWrite        func(t *fakeTransport, data []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{open: true}
}

// newEchoTransport replies to every request with {id, result}.
func newEchoTransport(result string) *fakeTransport {
	t := newFakeTransport()
	t.onWrite = func(t *fakeTransport, data []byte) {
		var req wireRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		t.deliver(fmt.Sprintf(`{"id":%d,"result":%s}`, req.ID, result))
	}
	return t
}

func (t *fakeTransport) Send(f ws.Frame) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return ws.NewError(ws.KindConnectionClosed, "websocket is not open", nil)
	}
	t.written = append(t.written, f)
	hook := t.onWrite
	t.mu.Unlock()

	if hook != nil {
		hook(t, []byte(f.Text()))
	}
	return nil
}

func (t *fakeTransport) OnMessage(fn func(ws.Frame)) {
	t.mu.Lock()
	t.msgListeners = append(t.msgListeners, fn)
	t.mu.Unlock()
}

func (t *fakeTransport) OnClose(fn func()) {
	t.mu.Lock()
	t.closeListeners = append(t.closeListeners, fn)
	t.mu.Unlock()
}

func (t *fakeTransport) OnError(fn func(error)) {
	t.mu.Lock()
	t.errListeners = append(t.errListeners, fn)
	t.mu.Unlock()
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) Close() error    { return t.shutdown() }
func (t *fakeTransport) CloseNow() error { return t.shutdown() }

func (t *fakeTransport) shutdown() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.open = false
		listeners := make([]func(), len(t.closeListeners))
		copy(listeners, t.closeListeners)
		t.mu.Unlock()
		for _, fn := range listeners {
			fn()
		}
	})
	return nil
}

// deliver injects one inbound text frame.
func (t *fakeTransport) deliver(msg string) {
	t.mu.Lock()
	listeners := make([]func(ws.Frame), len(t.msgListeners))
	copy(listeners, t.msgListeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(ws.Text(msg))
	}
}

func (t *fakeTransport) getWritten() []ws.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ws.Frame, len(t.written))
	copy(out, t.written)
	return out
}

func pendingCount(c *Client) int {
	count := 0
	c.pending.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func newTestClient(t *testing.T, transport Transport, opts Options) *Client {
	t.Helper()
	client := NewClient(transport, opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSendCorrelatesResponseByID(t *testing.T) {
	t.Parallel()

	transport := newEchoTransport(`{"frameId":"ABC123"}`)
	client := newTestClient(t, transport, Options{})

	resp, err := client.Method("Page.navigate").Param("url", "https://example.com").Send()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frameID, err := resp.GetString("result.frameId")
	if err != nil {
		t.Fatalf("missing frameId: %v", err)
	}
	if frameID != "ABC123" {
		t.Errorf("expected frameId ABC123, got %s", frameID)
	}

	written := transport.getWritten()
	if len(written) != 1 {
		t.Fatalf("expected 1 written frame, got %d", len(written))
	}
	var req wireRequest
	if err := json.Unmarshal([]byte(written[0].Text()), &req); err != nil {
		t.Fatalf("failed to parse request: %v", err)
	}
	if req.ID != 1 {
		t.Errorf("expected request id 1, got %d", req.ID)
	}
	if req.Method != "Page.navigate" {
		t.Errorf("expected method Page.navigate, got %s", req.Method)
	}

	if got := pendingCount(client); got != 0 {
		t.Errorf("expected empty pending map, got %d entries", got)
	}
}

func TestSendReturnsCommandError(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.onWrite = func(tr *fakeTransport, data []byte) {
		var req wireRequest
		_ = json.Unmarshal(data, &req)
		tr.deliver(fmt.Sprintf(`{"id":%d,"error":{"code":-32000,"message":"Target closed"}}`, req.ID))
	}
	client := newTestClient(t, transport, Options{})

	resp, err := client.Method("Page.navigate").Send()
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	cmdErr, ok := err.(*CommandError)
	if !ok {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if cmdErr.Code != -32000 {
		t.Errorf("expected code -32000, got %d", cmdErr.Code)
	}
	if cmdErr.Message != "Target closed" {
		t.Errorf("expected message 'Target closed', got %s", cmdErr.Message)
	}
	if resp == nil || !resp.IsError() {
		t.Error("expected error response to be returned alongside the error")
	}
}

func TestSendTimesOutAndClearsPending(t *testing.T) {
	t.Parallel()

	// Transport that never replies.
	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{DefaultTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Method("Never.respond").Send()
	elapsed := time.Since(start)

	if !ws.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed > 250*time.Millisecond {
		t.Errorf("timeout took too long: %v", elapsed)
	}
	if got := pendingCount(client); got != 0 {
		t.Errorf("expected empty pending map after timeout, got %d entries", got)
	}
}

func TestPerCallTimeoutOverridesDefault(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{DefaultTimeout: 10 * time.Second})

	start := time.Now()
	_, err := client.Method("Never.respond").Timeout(50 * time.Millisecond).Send()
	if !ws.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("per-call timeout not honored: %v", elapsed)
	}
}

func TestConcurrentCorrelation(t *testing.T) {
	t.Parallel()

	// Peer echoes each request's params back in the result.
	transport := newFakeTransport()
	transport.onWrite = func(tr *fakeTransport, data []byte) {
		var req wireRequest
		_ = json.Unmarshal(data, &req)
		params, _ := json.Marshal(req.Params)
		tr.deliver(fmt.Sprintf(`{"id":%d,"result":{"echo":%s}}`, req.ID, params))
	}
	client := newTestClient(t, transport, Options{})

	const n = 100
	calls := make([]*Call, n)
	for i := 0; i < n; i++ {
		calls[i] = client.Method("Test.echo").Param("seq", i).SendAsync()
	}

	for i, call := range calls {
		resp, err := call.Wait()
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		seq, err := resp.GetInt("result.echo.seq")
		if err != nil {
			t.Fatalf("call %d missing echo: %v", i, err)
		}
		if seq != i {
			t.Errorf("call %d got cross-talk: echo.seq=%d", i, seq)
		}
	}

	if got := pendingCount(client); got != 0 {
		t.Errorf("expected empty pending map, got %d entries", got)
	}
}

func TestRequestIDsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	transport := newEchoTransport(`{}`)
	client := newTestClient(t, transport, Options{})

	_, _ = client.Method("A.a").Send()
	_ = client.Method("B.b").SendWithoutWaiting()
	_, _ = client.Method("C.c").SendAsync().Wait()

	written := transport.getWritten()
	if len(written) != 3 {
		t.Fatalf("expected 3 written frames, got %d", len(written))
	}
	var last int64
	for i, f := range written {
		var req wireRequest
		_ = json.Unmarshal([]byte(f.Text()), &req)
		if req.ID <= last {
			t.Errorf("id %d at position %d not strictly increasing (prev %d)", req.ID, i, last)
		}
		last = req.ID
	}
}

func TestUnknownResponseIDDropped(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.onWrite = func(tr *fakeTransport, data []byte) {
		var req wireRequest
		_ = json.Unmarshal(data, &req)
		// An unmatched response first, then the real one.
		tr.deliver(`{"id":9999,"result":{}}`)
		tr.deliver(fmt.Sprintf(`{"id":%d,"result":{"ok":true}}`, req.ID))
	}
	client := newTestClient(t, transport, Options{})

	resp, err := client.Method("Test.method").Send()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := resp.GetBool("result.ok")
	if err != nil || !ok {
		t.Errorf("expected ok result, got %v (%v)", resp.Raw(), err)
	}
}

func TestMalformedMessageIgnored(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.onWrite = func(tr *fakeTransport, data []byte) {
		var req wireRequest
		_ = json.Unmarshal(data, &req)
		tr.deliver(`this is not json`)
		tr.deliver(`{"neither":"response","nor":"event"}`)
		tr.deliver(fmt.Sprintf(`{"id":%d,"result":{}}`, req.ID))
	}
	client := newTestClient(t, transport, Options{})

	if _, err := client.Method("Test.method").Send(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEventRouting(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{})

	received := make(chan Event, 1)
	client.On("Page.loadEventFired", func(e Event) {
		received <- e
	})

	transport.deliver(`{"method":"Page.loadEventFired","params":{"timestamp":123.456}}`)

	select {
	case e := <-received:
		if e.Method != "Page.loadEventFired" {
			t.Errorf("expected Page.loadEventFired, got %s", e.Method)
		}
		ts, err := e.Get("timestamp")
		if err != nil {
			t.Fatalf("missing timestamp: %v", err)
		}
		if ts.(float64) != 123.456 {
			t.Errorf("expected timestamp 123.456, got %v", ts)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// An event nobody subscribed to is silently dropped.
	transport.deliver(`{"method":"Network.requestWillBeSent","params":{}}`)
	select {
	case e := <-received:
		t.Errorf("unexpected event delivered: %s", e.Method)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventHandlersRunInOrderAndSurvivePanic(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{})

	var mu sync.Mutex
	var order []int
	client.On("Test.event", func(Event) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		panic("first handler blew up")
	})
	client.On("Test.event", func(Event) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})

	transport.deliver(`{"method":"Test.event","params":{}}`)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected handlers [1 2], got %v", order)
	}
}

func TestSubscriptionOffRemovesExactRegistration(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{})

	var count int
	var mu sync.Mutex
	handler := func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	sub1 := client.On("Test.event", handler)
	client.On("Test.event", handler)
	sub1.Off()

	transport.deliver(`{"method":"Test.event","params":{}}`)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 invocation after Off, got %d", count)
	}
}

func TestOffAllRemovesEveryHandler(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{})

	invoked := false
	client.On("Test.event", func(Event) { invoked = true })
	client.On("Test.event", func(Event) { invoked = true })
	client.OffAll("Test.event")

	transport.deliver(`{"method":"Test.event","params":{}}`)

	if invoked {
		t.Error("handler invoked after OffAll")
	}
}

func TestCloseDuringPendingSend(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{DefaultTimeout: 10 * time.Second})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = client.CloseNow()
	}()

	_, err := client.Method("Never.respond").Send()
	if !ws.IsConnectionClosed(err) {
		t.Fatalf("expected connection-closed error, got %v", err)
	}
	if got := pendingCount(client); got != 0 {
		t.Errorf("expected empty pending map after close, got %d entries", got)
	}
}

func TestSendOnClosedClientFailsFast(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{})
	_ = client.Close()

	_, err := client.Method("Page.navigate").Send()
	if !ws.IsConnectionClosed(err) {
		t.Errorf("expected connection-closed error, got %v", err)
	}
}

func TestSendWithoutWaitingRegistersNothing(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	client := newTestClient(t, transport, Options{})

	if err := client.Method("Runtime.enable").SendWithoutWaiting(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pendingCount(client); got != 0 {
		t.Errorf("expected no pending entries, got %d", got)
	}

	// A late response to that id is unmatched and must be dropped quietly.
	transport.deliver(`{"id":1,"result":{}}`)
}

func TestSessionIDAttachedToCommands(t *testing.T) {
	t.Parallel()

	transport := newEchoTransport(`{}`)
	client := newTestClient(t, transport, Options{})
	client.SetSessionID("SESSION42")

	_, _ = client.Method("Page.enable").Send()
	_, _ = client.BrowserMethod("Target.getTargets").Send()

	written := transport.getWritten()
	if len(written) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(written))
	}

	var scoped, browser wireRequest
	_ = json.Unmarshal([]byte(written[0].Text()), &scoped)
	_ = json.Unmarshal([]byte(written[1].Text()), &browser)

	if scoped.SessionID != "SESSION42" {
		t.Errorf("expected session id on Method command, got %q", scoped.SessionID)
	}
	if browser.SessionID != "" {
		t.Errorf("expected no session id on BrowserMethod command, got %q", browser.SessionID)
	}
}

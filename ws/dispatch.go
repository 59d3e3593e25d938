package ws

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// Dispatcher runs user callbacks off the network I/O goroutines so that slow
// or blocking callback code cannot stall frame delivery.
type Dispatcher interface {
	// Dispatch enqueues fn for execution. Never blocks the caller.
	Dispatch(fn func())

	// Close stops the dispatcher after draining already-queued work.
	Close()
}

// poolDispatcher is a fixed worker pool fed by an unbounded FIFO queue.
//
// The queue is unbounded on purpose: a sustained mismatch between inbound
// message rate and callback processing rate grows memory without bound.
// Callers that need backpressure or strict processing order should supply
// their own Dispatcher (see SerialDispatcher).
type poolDispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher backed by the given number of workers.
func NewDispatcher(workers int) Dispatcher {
	return newDispatcher(workers, slog.Default())
}

// SerialDispatcher creates a single-worker dispatcher that processes
// callbacks strictly in dispatch order.
func SerialDispatcher() Dispatcher {
	return NewDispatcher(1)
}

func newDispatcher(workers int, logger *slog.Logger) *poolDispatcher {
	if workers <= 0 {
		workers = defaultCallbackWorkers
	}
	d := &poolDispatcher{
		tasks:  queue.New(),
		logger: logger,
	}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *poolDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("callback dropped: dispatcher closed")
		return
	}
	d.tasks.Add(fn)
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *poolDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *poolDispatcher) work() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for d.tasks.Length() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.tasks.Length() == 0 {
			// Closed and drained.
			d.mu.Unlock()
			return
		}
		fn := d.tasks.Remove().(func())
		d.mu.Unlock()
		d.run(fn)
	}
}

// run executes one callback, isolating panics from the pool.
func (d *poolDispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback panic", "panic", r)
		}
	}()
	fn()
}

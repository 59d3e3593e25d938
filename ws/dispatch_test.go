package ws

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsTasks(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(4)
	defer d.Close()

	const n = 50
	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		d.Dispatch(func() {
			count.Add(1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if got := count.Load(); got != n {
			t.Errorf("expected %d tasks run, got %d", n, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tasks")
	}
}

func TestSerialDispatcherPreservesOrder(t *testing.T) {
	t.Parallel()

	d := SerialDispatcher()

	const n = 100
	var mu sync.Mutex
	var order []int
	for i := 0; i < n; i++ {
		i := i
		d.Dispatch(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	// Close drains the queue before returning.
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("expected %d tasks, got %d", n, len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestDispatcherSurvivesPanic(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(1)
	defer d.Close()

	d.Dispatch(func() { panic("listener blew up") })

	ran := make(chan struct{})
	d.Dispatch(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(1)
	d.Close()

	// Must not panic or block.
	d.Dispatch(func() { t.Error("task ran after close") })
	time.Sleep(50 * time.Millisecond)
}

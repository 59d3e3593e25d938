package ws

import (
	"sync"
	"testing"
)

type fakeMember struct {
	mu     sync.Mutex
	closed bool
	reg    *Registry
}

func (f *fakeMember) CloseNow() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.reg.remove(f)
	return nil
}

func TestRegistryCloseAll(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	members := make([]*fakeMember, 5)
	for i := range members {
		members[i] = &fakeMember{reg: reg}
		reg.add(members[i])
	}

	if got := reg.Len(); got != 5 {
		t.Fatalf("expected 5 members, got %d", got)
	}

	reg.CloseAll()

	if got := reg.Len(); got != 0 {
		t.Errorf("expected empty registry after CloseAll, got %d", got)
	}
	for i, m := range members {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if !closed {
			t.Errorf("member %d not closed", i)
		}
	}
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := &fakeMember{reg: reg}
			reg.add(m)
			reg.remove(m)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.CloseAll()
	}()
	wg.Wait()

	if got := reg.Len(); got != 0 {
		t.Errorf("expected empty registry, got %d", got)
	}
}

package ws

import "sync"

// Closer is the contract registry members satisfy: immediate teardown
// without waiting for peer acknowledgment.
type Closer interface {
	CloseNow() error
}

// Registry tracks live connections and servers for bulk shutdown. Its
// lifetime is owned by whatever composes the system (a test suite, an
// application context); pass it in through ClientOptions/ServerOptions.
//
// Members join synchronously on successful open/bind and leave synchronously
// on reaching the closed state. Add, remove, and iterate are safe for
// concurrent use and never block on member I/O.
type Registry struct {
	mu      sync.Mutex
	members map[Closer]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[Closer]struct{})}
}

func (r *Registry) add(c Closer) {
	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) remove(c Closer) {
	r.mu.Lock()
	delete(r.members, c)
	r.mu.Unlock()
}

// Len returns the number of live members.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// CloseAll force-closes every live member. Safe to call concurrently with
// members joining and leaving; members snapshot before closing so the
// registry lock is never held across teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	snapshot := make([]Closer, 0, len(r.members))
	for c := range r.members {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		_ = c.CloseNow()
	}
}

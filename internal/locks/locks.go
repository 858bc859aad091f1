package locks

import "sync"

// Registry hands out one mutex per key. Map deletion and track deletion
// recompute blob-hash liveness across all of a user's maps, so those
// operations are serialized per user against concurrent uploads.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: map[string]*sync.Mutex{}}
}

// Acquire locks the mutex for key and returns the unlock function.
func (r *Registry) Acquire(key string) func() {
	r.mu.Lock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}

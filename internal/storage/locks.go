package storage

import "sync"

// LockRegistry hands out one mutex per record identity so that independently
// loaded references to the same logical row serialize their transitions.
// Mutexes are never evicted; records are never deleted either.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*sync.Mutex)}
}

// For returns the mutex bound to key, creating it on first use.
func (r *LockRegistry) For(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.locks[key]; ok {
		return m
	}

	m := &sync.Mutex{}
	r.locks[key] = m

	return m
}

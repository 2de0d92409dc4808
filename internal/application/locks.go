package application

import "sync"

// userLocks hands out one mutex per user identifier so that
// generate-then-publish-then-store-update runs as a single critical section
// per user, while different users proceed fully in parallel. Mutexes are
// never removed; the user population is small and bounded by the store.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a user identifier, creating it on first use.
func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

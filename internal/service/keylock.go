package service

import "sync"

// scopeKey identifies the (user, module) pair entry mutations are
// serialized on.
type scopeKey struct {
	userID   int64
	moduleID int64
}

// scopeLocks hands out one mutex per scope key, reference-counted so idle
// keys do not accumulate. Find-or-create and reset sequences for a scope
// run under its lock; the store-level unique index remains the backstop
// for multi-process deployments.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[scopeKey]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[scopeKey]*scopeLock)}
}

// Lock acquires the mutex for a scope and returns its release func.
func (s *scopeLocks) Lock(userID, moduleID int64) func() {
	key := scopeKey{userID: userID, moduleID: moduleID}

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &scopeLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

package service

import "sync"

// bookLocks is a keyed mutex: one lock per book id, created on demand and
// dropped when the last holder or waiter releases it.
type bookLocks struct {
	mu    sync.Mutex
	locks map[int64]*bookLock
}

type bookLock struct {
	mu   sync.Mutex
	refs int
}

func newBookLocks() *bookLocks {
	return &bookLocks{locks: make(map[int64]*bookLock)}
}

// lock blocks until the caller owns bookID and returns the release func.
func (l *bookLocks) lock(bookID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[bookID]
	if !ok {
		entry = &bookLock{}
		l.locks[bookID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, bookID)
		}
		l.mu.Unlock()
	}
}

func (l *bookLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

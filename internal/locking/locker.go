// Package locking serializes mutations of a single ticket.
package locking

import (
	"context"
	"sync"
)

// Unlock releases a held lock. It is safe to call once.
type Unlock func() error

// Locker grants exclusive access to one ticket at a time. Lock blocks until
// the lock is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context, ticketID int64) (Unlock, error)
}

// LocalLocker is a keyed mutex for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[int64]*slot)}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, ticketID int64) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[ticketID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[ticketID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(ticketID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-s.ch
			l.release(ticketID, s)
		})
		return nil
	}, nil
}

// release drops a reference and forgets the slot once nobody waits on it.
func (l *LocalLocker) release(ticketID int64, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, ticketID)
	}
}

// Len reports how many tickets currently have holders or waiters.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

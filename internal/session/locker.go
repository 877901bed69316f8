// Package session serializes turns that share a session id.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrLockTimeout is returned when a session lock cannot be acquired before the
// caller's context ends.
var ErrLockTimeout = errors.New("session busy")

// Locker grants exclusive access to one session. The returned release func
// must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// NopLocker never blocks. Concurrent turns in one session may interleave.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// LocalLocker serializes turns within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := strings.TrimSpace(sessionID)

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Len reports the number of sessions with holders or waiters.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

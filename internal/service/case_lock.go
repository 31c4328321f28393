package service

import (
	"context"
	"sync"
)

// CaseLocker serializes mutations of a single case across callers.
type CaseLocker interface {
	Lock(ctx context.Context, caseID string) (unlock func(), err error)
}

// KeyedLocker is the in-process CaseLocker. Entries are dropped once no
// caller holds or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker builds an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[string]*keyedEntry{}}
}

// Lock blocks until caseID is free or ctx ends.
func (l *KeyedLocker) Lock(ctx context.Context, caseID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[caseID]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		l.locks[caseID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(caseID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.release(caseID, entry)
		})
	}, nil
}

func (l *KeyedLocker) release(caseID string, entry *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, caseID)
	}
}

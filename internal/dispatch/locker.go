package dispatch

import (
	"context"
	"sync"
)

// Locker serialises handlers that touch the same downstream entity.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func
	// releases the lock and is safe to call more than once.
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is a process-local Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.release(key, l)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// Held reports how many keys currently have holders or waiters.
func (m *KeyedMutex) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

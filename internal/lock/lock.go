// Package lock serializes engine operations per account key. Keys are always
// acquired in sorted order so two transfers over the same pair cannot deadlock.
package lock

import (
	"context"
	"sort"
	"sync"
)

// Unlock releases everything a Lock call acquired.
type Unlock func()

// Normalize sorts and de-duplicates keys.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KeyedMutex is an in-process lock table. Waiting honours ctx cancellation.
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

func (m *KeyedMutex) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = Normalize(keys)
	held := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.release(held[i])
		}
	}

	for _, k := range keys {
		if err := m.acquire(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *KeyedMutex) acquire(ctx context.Context, key string) error {
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
		return nil
	case <-ctx.Done():
		m.drop(key, l)
		return ctx.Err()
	}
}

func (m *KeyedMutex) release(key string) {
	m.mu.Lock()
	l := m.locks[key]
	m.mu.Unlock()
	if l == nil {
		return
	}
	<-l.ch
	m.drop(key, l)
}

func (m *KeyedMutex) drop(key string, l *keyLock) {
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

// Noop does not serialize anything.
type Noop struct{}

func (Noop) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	return func() {}, nil
}

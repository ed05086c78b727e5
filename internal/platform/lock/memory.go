package lock

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Locker. It only excludes callers within one
// process and is meant for tests and single-instance deployments.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memEntry
}

type memEntry struct {
	sem  chan struct{}
	refs int
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*memEntry)}
}

func (m *Memory) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := m.acquire(ctx, k); err != nil {
			m.releaseAll(held)
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.releaseAll(held) })
	}, nil
}

func (m *Memory) acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &memEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.drop(key, e)
		return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}
}

func (m *Memory) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.mu.Lock()
		e := m.locks[keys[i]]
		m.mu.Unlock()
		<-e.sem
		m.drop(keys[i], e)
	}
}

func (m *Memory) drop(key string, e *memEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// held reports how many keys currently have waiters or holders.
func (m *Memory) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

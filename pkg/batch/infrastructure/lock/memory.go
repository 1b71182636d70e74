package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker keeps locks in process memory. It only excludes runners inside one
// process and is meant for single-instance deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	now   func() time.Time
	token uint64
}

type memoryEntry struct {
	token   uint64
	expires time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), now: time.Now}
}

// TryAcquire implements Locker. An expired entry is taken over.
func (m *MemoryLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[name]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return nil, ErrLockUnavailable
	}
	m.token++
	e := memoryEntry{token: m.token}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.held[name] = e
	return &memoryLock{locker: m, name: name, token: e.token}, nil
}

type memoryLock struct {
	locker *MemoryLocker
	name   string
	token  uint64
}

func (l *memoryLock) Name() string { return l.name }

func (l *memoryLock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	// Only the owner that set the entry may delete it.
	if e, ok := l.locker.held[l.name]; ok && e.token == l.token {
		delete(l.locker.held, l.name)
	}
	return nil
}

package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryKeyLocker serializes holders per key inside one process. Acquire
// blocks until the current holder unlocks or ctx is done; unrelated keys
// never contend. The ttl argument is part of the KeyLocker contract for
// distributed implementations and is ignored here: in-process locks are
// always released by the deferred Unlock, even on cancellation.
type MemoryKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLockEntry
}

type memoryLockEntry struct {
	sem  chan struct{}
	refs int
}

func NewMemoryKeyLocker() *MemoryKeyLocker {
	return &MemoryKeyLocker{locks: make(map[string]*memoryLockEntry)}
}

func (l *MemoryKeyLocker) Acquire(ctx context.Context, key string, _ time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: key locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &memoryLockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		return &memoryLockHandle{locker: l, key: key, entry: entry}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *MemoryKeyLocker) release(key string, entry *memoryLockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

type memoryLockHandle struct {
	locker *MemoryKeyLocker
	key    string
	entry  *memoryLockEntry
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		<-h.entry.sem
		h.locker.release(h.key, h.entry)
	})
	return nil
}

var _ KeyLocker = (*MemoryKeyLocker)(nil)

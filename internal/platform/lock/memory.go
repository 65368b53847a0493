package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a process-local Locker for development and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryLocker) tryLock(key, token string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.locks[key]; ok && now.Before(cur.expires) {
		return false
	}
	m.locks[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return true
}

func (m *MemoryLocker) extend(key, token string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[key]; ok && cur.token == token {
		cur.expires = m.now().Add(ttl)
		m.locks[key] = cur
	}
}

func (m *MemoryLocker) unlock(key, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[key]; ok && cur.token == token {
		delete(m.locks, key)
	}
}

// Held reports whether key is currently locked.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[key]
	return ok && m.now().Before(cur.expires)
}

func (m *MemoryLocker) Perform(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	opts = opts.normalized()
	token := uuid.NewString()
	if err := acquire(ctx, opts, func(context.Context) (bool, error) {
		return m.tryLock(key, token, opts.TTL), nil
	}); err != nil {
		return err
	}
	defer m.unlock(key, token)

	stop := keepAlive(ctx, opts.TTL, func(context.Context) error {
		m.extend(key, token, opts.TTL)
		return nil
	})
	defer stop()
	return fn(ctx)
}

// keepAlive calls extend every ttl/2 until the returned stop func runs.
func keepAlive(ctx context.Context, ttl time.Duration, extend func(ctx context.Context) error) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = extend(ctx)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

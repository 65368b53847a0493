package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type memoryItem struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local Cache.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	group singleflight.Group
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]memoryItem{}, now: time.Now}
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(it.expires) {
		delete(m.items, key)
		return nil, false
	}
	return it.value, true
}

func (m *Memory) set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: value, expires: m.now().Add(ttl)}
}

func (m *Memory) Wrap(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error) {
	if v, ok := m.get(key); ok {
		return v, nil
	}
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if v, ok := m.get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		m.set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

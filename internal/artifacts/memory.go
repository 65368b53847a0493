package artifacts

import (
	"context"
	"sync"
)

// MemoryWriter keeps artifacts in a map. Used when no bucket is configured and in tests.
type MemoryWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	// Err, when set, is returned by every write.
	Err error
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{objects: map[string][]byte{}}
}

func (m *MemoryWriter) WriteArtifact(ctx context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.objects[a.Key()] = append([]byte(nil), a.Payload...)
	return nil
}

func (m *MemoryWriter) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objects[key]
	return v, ok
}

func (m *MemoryWriter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

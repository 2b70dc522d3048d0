package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruteri/encrypted-db-registry/interfaces"
)

type memoryKey struct {
	id          interfaces.ContentID
	contentType interfaces.ContentType
}

// MemoryBackend keeps content in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	content map[memoryKey][]byte
	name    string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		content: make(map[memoryKey][]byte),
		name:    name,
	}
}

func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.content[memoryKey{id, contentType}]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Store(ctx context.Context, id interfaces.ContentID, data []byte, contentType interfaces.ContentType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.content[memoryKey{id, contentType}] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.name)
}

func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("memory://%s", b.name)
}

package archive

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process ObjectStore for tests, dry runs and local
// experimentation.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Name identifies the backend.
func (s *MemoryStore) Name() string { return "memory" }

// Put stores a copy of data at path, overwriting any existing object.
func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return Transient(s.Name(), path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the object at path.
func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// List returns the sorted paths with the given prefix.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for path := range s.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes the object at path.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; !ok {
		return ErrNotFound
	}
	delete(s.objects, path)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

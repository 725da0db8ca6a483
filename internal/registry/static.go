package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static is an in-memory Registry seeded from configuration. Upserts and
// deletes affect only the running process.
type Static struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewStatic builds a registry from the given sources.
func NewStatic(sources []Source) *Static {
	s := &Static{sources: make(map[string]Source, len(sources))}
	for _, src := range sources {
		s.sources[src.ID] = src
	}
	return s
}

// sourcesFile is the on-disk shape of a sources declaration.
type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSourcesFile reads a YAML sources declaration:
//
//	sources:
//	  - id: users-prod
//	    key_schema: [PK, SK]
//	    enabled: true
func LoadSourcesFile(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}

	for i, src := range f.Sources {
		if src.ID == "" {
			return nil, fmt.Errorf("sources file %s: entry %d has no id", path, i)
		}
	}
	return f.Sources, nil
}

// Lookup returns the source with the given id.
func (s *Static) Lookup(ctx context.Context, id string) (Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return Source{}, ErrNotFound
	}
	return src, nil
}

// List returns all sources sorted by id.
func (s *Static) List(ctx context.Context) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert adds or replaces a source in memory.
func (s *Static) Upsert(ctx context.Context, src Source) error {
	if src.ID == "" {
		return fmt.Errorf("source id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}

// Delete removes a source from memory.
func (s *Static) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

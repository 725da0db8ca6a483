// Package registry resolves change-feed sources to their declared key
// schemas. The schema fixes the order of key attributes in archive paths,
// so two feeds delivering the same record with attributes in different
// order still derive the same path.
package registry

import (
	"context"
	"errors"
)

// ErrNotFound marks a lookup for a source the registry does not know.
var ErrNotFound = errors.New("source not found")

// Source describes one archived change-feed source.
type Source struct {
	ID        string   `json:"id" yaml:"id"`
	KeySchema []string `json:"key_schema" yaml:"key_schema"`
	Enabled   bool     `json:"enabled" yaml:"enabled"`
}

// Registry is the source catalog. Lookup returns ErrNotFound for unknown
// sources; unknown is not fatal for archiving unless the archiver is
// configured to require declared sources.
type Registry interface {
	Lookup(ctx context.Context, id string) (Source, error)
	List(ctx context.Context) ([]Source, error)
	Upsert(ctx context.Context, src Source) error
	Delete(ctx context.Context, id string) error
}

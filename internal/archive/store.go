// Package archive persists self-describing deletion documents to object
// storage. Writes are unconditional: paths are deterministic and document
// bytes are identical across retries, so rewriting an existing object is
// always safe and no read-before-write is needed.
package archive

import (
	"context"
	"errors"
)

// ContentTypeJSON is the content type written for archive documents.
const ContentTypeJSON = "application/json"

// ErrNotFound is returned by Get and Delete when no object exists at the
// given path.
var ErrNotFound = errors.New("object not found")

// ObjectStore abstracts the archive's storage target. Put must overwrite
// silently when the path already holds an object.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
	Ping(ctx context.Context) error
	Name() string
}

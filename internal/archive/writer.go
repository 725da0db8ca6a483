package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/barrowworks/barrow/internal/audit"
	"github.com/barrowworks/barrow/internal/model"
)

// Writer builds archive documents and persists them through an ObjectStore.
type Writer struct {
	store  ObjectStore
	signer *audit.DocumentSigner
}

// NewWriter creates a Writer. signer may be nil to write unsigned documents.
func NewWriter(store ObjectStore, signer *audit.DocumentSigner) *Writer {
	return &Writer{store: store, signer: signer}
}

// Store exposes the underlying object store for health checks and tooling.
func (w *Writer) Store() ObjectStore { return w.store }

// Write serializes ev into its archive document and puts it at path.
// Serialization failures are permanent; store failures carry the backend's
// classification.
func (w *Writer) Write(ctx context.Context, ev model.ChangeEvent, orderedKey []model.KeyAttribute, path string) (model.ArchiveRef, error) {
	doc := model.NewDocument(ev, orderedKey)

	data, err := doc.Marshal()
	if err != nil {
		return model.ArchiveRef{}, Permanent(w.store.Name(), path, err)
	}
	if w.signer != nil {
		doc.Signature = w.signer.Sign(data)
		if data, err = doc.Marshal(); err != nil {
			return model.ArchiveRef{}, Permanent(w.store.Name(), path, err)
		}
	}

	if err := w.store.Put(ctx, path, data, ContentTypeJSON); err != nil {
		var we *WriteError
		if errors.As(err, &we) {
			return model.ArchiveRef{}, err
		}
		return model.ArchiveRef{}, Transient(w.store.Name(), path, err)
	}
	return model.ArchiveRef{Path: path, Size: len(data)}, nil
}

// ErrBadSignature marks a fetched document whose signature does not match
// its content.
var ErrBadSignature = errors.New("document signature mismatch")

// Fetch reads the document at path and, when a signer is configured,
// verifies its signature.
func (w *Writer) Fetch(ctx context.Context, path string) (*model.ArchiveDocument, error) {
	data, err := w.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}

	doc, err := model.ParseDocument(data)
	if err != nil {
		return nil, err
	}

	if w.signer != nil && doc.Signature != "" {
		sig := doc.Signature
		doc.Signature = ""
		unsigned, err := doc.Marshal()
		if err != nil {
			return nil, err
		}
		doc.Signature = sig
		if !w.signer.Verify(unsigned, sig) {
			return nil, fmt.Errorf("fetch %s: %w", path, ErrBadSignature)
		}
	}
	return doc, nil
}

package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/barrowworks/barrow/internal/model"
)

// WriteError classifies a failed store operation so the batch layer can
// decide between redelivery (transient) and dead-lettering (permanent).
type WriteError struct {
	Store  string
	Path   string
	Reason model.FailureReason
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Store, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Transient wraps err as a retry-worthy store failure.
func Transient(store, path string, err error) *WriteError {
	return &WriteError{Store: store, Path: path, Reason: model.ReasonTransient, Err: err}
}

// Permanent wraps err as a store failure that redelivery cannot fix.
func Permanent(store, path string, err error) *WriteError {
	return &WriteError{Store: store, Path: path, Reason: model.ReasonPermanent, Err: err}
}

// FailureReason extracts the reason from a store error. Anything
// unclassified counts as transient so redelivery gets a chance.
func FailureReason(err error) model.FailureReason {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Reason
	}
	return model.ReasonTransient
}

// classifyCtx maps context expiry to a transient failure, or returns nil
// when err is not context-related.
func classifyCtx(store, path string, err error) *WriteError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(store, path, err)
	}
	return nil
}

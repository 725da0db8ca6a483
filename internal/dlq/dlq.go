// Package dlq parks records that could not be archived so a redelivering
// feed does not cycle them forever. Entries keep the raw record bytes,
// which makes replay through the batch endpoint possible once the cause
// is fixed.
package dlq

import (
	"context"
	"encoding/json"
	"time"
)

// FailedRecord captures a record that exhausted processing along with
// enough context to diagnose and replay it.
type FailedRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	Format    string          `json:"format,omitempty"`
	Record    json.RawMessage `json:"record"`
	Error     string          `json:"error"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
}

// Queue is a dead letter sink. Implementations are safe for concurrent use.
type Queue interface {
	Write(ctx context.Context, rec FailedRecord) error
	Stats(ctx context.Context) map[string]any
	List(ctx context.Context, limit int) ([]FailedRecord, error)
	Purge(ctx context.Context) error
}

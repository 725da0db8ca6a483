package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/barrowworks/barrow/internal/logging"
)

// StreamName is the JetStream stream holding dead letter entries.
const StreamName = "ARCHIVE_DLQ"

const (
	subjectPrefix   = "archive.dlq."
	subjectWildcard = "archive.dlq.>"
)

// StreamConfig returns the DLQ stream definition. Entries are retained a
// week so operators have time to inspect and replay them.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectWildcard},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
}

// JetStreamQueue writes failed records to NATS JetStream. Safe to share
// across archiver instances.
type JetStreamQueue struct {
	js      jetstream.JetStream
	stream  jetstream.Stream
	log     *logging.Logger
	written atomic.Uint64
}

// NewJetStreamQueue provisions the DLQ stream and returns a queue over it.
func NewJetStreamQueue(ctx context.Context, js jetstream.JetStream, log *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("dlq: jetstream context is nil")
	}
	if log == nil {
		log = logging.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, StreamConfig())
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &JetStreamQueue{js: js, stream: stream, log: log}, nil
}

// Write publishes a failed record under archive.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, rec FailedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	reason := rec.Reason
	if reason == "" {
		reason = "unknown"
	}
	if _, err := q.js.Publish(ctx, subjectPrefix+reason, data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.log.DebugContext(ctx, "dlq entry published", "reason", reason)
	return nil
}

// Stats reports local write counters plus stream state from JetStream.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]any{
			"backend":       "jetstream",
			"written_local": q.written.Load(),
			"error":         err.Error(),
		}
	}
	return map[string]any{
		"backend":        "jetstream",
		"written_local":  q.written.Load(),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}
}

// List reads up to limit entries through an ephemeral consumer without
// acknowledging them.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: subjectWildcard,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dlq entries: %w", err)
	}

	var records []FailedRecord
	for msg := range msgs.Messages() {
		var rec FailedRecord
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			q.log.WarnContext(ctx, "unparseable dlq message", "subject", msg.Subject(), "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := msgs.Error(); err != nil {
		q.log.WarnContext(ctx, "dlq fetch ended with error", "error", err)
	}
	return records, nil
}

// Purge removes all entries from the DLQ stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	return nil
}

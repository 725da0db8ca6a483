// Package runner consumes raw change records from a JetStream feed,
// processes them in batches and settles every message according to its
// outcome: archived and skipped records ack, transient failures redeliver
// with a delay, and malformed or permanent failures move to the dead
// letter queue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/barrowworks/barrow/internal/dlq"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/metrics"
	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/internal/service"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

// Message headers carried by feed records.
const (
	HeaderSource = "X-Feed-Source"
	HeaderFormat = "X-Feed-Format"
)

// DefaultStream is the JetStream stream the feed runner consumes.
const DefaultStream = "ARCHIVE_FEED"

// Config tunes the feed runner.
type Config struct {
	// StreamName and Subjects define the feed stream.
	StreamName string
	Subjects   []string

	// ConsumerName is the durable consumer shared by archiver instances.
	ConsumerName string

	// BatchSize bounds how many messages one fetch collects.
	BatchSize int

	// BatchWait bounds how long a fetch waits for messages.
	BatchWait time.Duration

	// AckWait is how long the server waits for an ack before redelivering.
	AckWait time.Duration

	// MaxDeliver caps delivery attempts; a transient failure on the last
	// attempt moves to the DLQ instead of redelivering forever.
	MaxDeliver int

	// RedeliverBackoff delays redelivery of transient failures.
	RedeliverBackoff time.Duration
}

// DefaultConfig returns feed settings suitable for a single archiver.
func DefaultConfig() Config {
	return Config{
		StreamName:       DefaultStream,
		Subjects:         []string{"archive.feed.>"},
		ConsumerName:     "barrow-archiver",
		BatchSize:        100,
		BatchWait:        5 * time.Second,
		AckWait:          30 * time.Second,
		MaxDeliver:       5,
		RedeliverBackoff: 5 * time.Second,
	}
}

// StreamConfig returns the feed stream definition.
func StreamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  cfg.Subjects,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}
}

// Runner pulls feed messages and drives them through the archiver.
type Runner struct {
	svc      *service.Archiver
	queue    dlq.Queue
	log      *logging.Logger
	cfg      Config
	consumer jetstream.Consumer
}

// New provisions the feed stream and durable consumer and returns a Runner.
// queue may be nil; without one, dead records are dropped with an error log.
func New(ctx context.Context, js jetstream.JetStream, svc *service.Archiver, queue dlq.Queue, log *logging.Logger, cfg Config) (*Runner, error) {
	if js == nil {
		return nil, fmt.Errorf("runner: jetstream context is nil")
	}
	if log == nil {
		log = logging.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	stream, err := js.CreateOrUpdateStream(ctx, StreamConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create feed stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.BatchSize * 2,
	})
	if err != nil {
		return nil, fmt.Errorf("create feed consumer: %w", err)
	}

	return &Runner{svc: svc, queue: queue, log: log, cfg: cfg, consumer: consumer}, nil
}

// Run fetches and processes feed messages until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.InfoContext(ctx, "feed runner started",
		"stream", r.cfg.StreamName,
		"consumer", r.cfg.ConsumerName,
		"batch_size", r.cfg.BatchSize,
	)

	for {
		if ctx.Err() != nil {
			r.log.InfoContext(ctx, "feed runner stopped")
			return nil
		}

		batch, err := r.consumer.Fetch(r.cfg.BatchSize, jetstream.FetchMaxWait(r.cfg.BatchWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.WarnContext(ctx, "feed fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var msgs []jetstream.Msg
		for msg := range batch.Messages() {
			msgs = append(msgs, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			r.log.WarnContext(ctx, "feed fetch incomplete", "error", err)
		}
		if len(msgs) == 0 {
			continue
		}

		r.processFetched(ctx, msgs)
	}
}

// group is one fetch's worth of messages sharing a source and format.
type group struct {
	source string
	format string
	msgs   []jetstream.Msg
	env    changefeed.Envelope
}

// processFetched batches messages by source and format, processes each
// batch and settles every message by its outcome.
func (r *Runner) processFetched(ctx context.Context, msgs []jetstream.Msg) {
	groups := make(map[string]*group)
	var order []string

	for _, msg := range msgs {
		var source, format string
		if headers := msg.Headers(); headers != nil {
			source = headers.Get(HeaderSource)
			format = headers.Get(HeaderFormat)
		}

		key := source + "\x1f" + format
		g, ok := groups[key]
		if !ok {
			g = &group{
				source: source,
				format: format,
				env:    changefeed.Envelope{Source: source, Format: format},
			}
			groups[key] = g
			order = append(order, key)
		}
		g.msgs = append(g.msgs, msg)
		g.env.Records = append(g.env.Records, msg.Data())
	}

	for _, key := range order {
		g := groups[key]
		outcomes := r.svc.Process(ctx, g.env)
		for i, out := range outcomes {
			r.settle(ctx, g.msgs[i], out, g.source, g.format)
		}
	}
}

// Decision is how one feed message is settled.
type Decision int

const (
	DecideAck Decision = iota
	DecideRetry
	DecideDeadLetter
)

// Settle maps a batch outcome to a settlement decision. delivered is the
// message's delivery attempt count.
func Settle(out model.BatchOutcome, delivered, maxDeliver int) Decision {
	if out.Status != model.StatusFailed {
		return DecideAck
	}
	if out.Reason == model.ReasonTransient {
		if maxDeliver > 0 && delivered >= maxDeliver {
			return DecideDeadLetter
		}
		return DecideRetry
	}
	return DecideDeadLetter
}

func (r *Runner) settle(ctx context.Context, msg jetstream.Msg, out model.BatchOutcome, source, format string) {
	delivered := 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = int(meta.NumDelivered)
	}

	switch Settle(out, delivered, r.cfg.MaxDeliver) {
	case DecideAck:
		if err := msg.Ack(); err != nil {
			r.log.WarnContext(ctx, "ack failed", "event_id", out.EventID, "error", err)
		}
	case DecideRetry:
		if err := msg.NakWithDelay(r.cfg.RedeliverBackoff); err != nil {
			r.log.WarnContext(ctx, "nak failed", "event_id", out.EventID, "error", err)
		}
	case DecideDeadLetter:
		r.deadLetter(ctx, msg, out, source, format, delivered)
	}
}

// deadLetter parks the record before terminating delivery. When the DLQ
// write fails the message naks instead, so the record is never dropped
// silently.
func (r *Runner) deadLetter(ctx context.Context, msg jetstream.Msg, out model.BatchOutcome, source, format string, delivered int) {
	if r.queue != nil {
		rec := dlq.FailedRecord{
			Timestamp: time.Now().UTC(),
			Source:    source,
			Format:    format,
			Record:    msg.Data(),
			Error:     out.Detail,
			Reason:    string(out.Reason),
			Attempts:  delivered,
		}
		if err := r.queue.Write(ctx, rec); err != nil {
			r.log.ErrorContext(ctx, "dlq write failed, redelivering",
				"event_id", out.EventID,
				"reason", out.Reason,
				"error", err,
			)
			if err := msg.NakWithDelay(r.cfg.RedeliverBackoff); err != nil {
				r.log.WarnContext(ctx, "nak failed", "event_id", out.EventID, "error", err)
			}
			return
		}
		metrics.DeadLettersTotal.WithLabelValues(string(out.Reason)).Inc()
	} else {
		r.log.ErrorContext(ctx, "dropping record, no dlq configured",
			"event_id", out.EventID,
			"reason", out.Reason,
			"detail", out.Detail,
		)
	}

	if err := msg.Term(); err != nil {
		r.log.WarnContext(ctx, "term failed", "event_id", out.EventID, "error", err)
	}
}

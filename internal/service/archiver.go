package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/barrowworks/barrow/internal/batch"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/metrics"
	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

// Hook observes the outcomes of each processed batch. Implementations must
// tolerate partial batches and must never block batch completion; hook
// failures are their own concern and never change outcomes.
type Hook interface {
	AfterBatch(ctx context.Context, source string, outcomes []model.BatchOutcome)
}

// Archiver wraps the batch processor and captures basic telemetry.
type Archiver struct {
	processor *batch.Processor
	log       *logging.Logger
	hooks     []Hook

	startedAt time.Time
	batches   atomic.Uint64
	records   atomic.Uint64
	archived  atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

// NewArchiver creates an Archiver. Hooks run after each batch in the order
// given.
func NewArchiver(p *batch.Processor, log *logging.Logger, hooks ...Hook) *Archiver {
	if log == nil {
		log = logging.Default()
	}
	return &Archiver{
		processor: p,
		log:       log,
		hooks:     hooks,
		startedAt: time.Now().UTC(),
	}
}

// Process runs one batch through the processor, records telemetry and fans
// outcomes out to the registered hooks.
func (a *Archiver) Process(ctx context.Context, env changefeed.Envelope) []model.BatchOutcome {
	start := time.Now()
	metrics.BatchesInFlight.Inc()
	defer metrics.BatchesInFlight.Dec()

	outcomes := a.processor.Process(ctx, env)

	source := env.Source
	if source == "" {
		source = "dynamic"
	}

	var archived, skipped, failed uint64
	for _, out := range outcomes {
		metrics.RecordsTotal.WithLabelValues(source, string(out.Status)).Inc()
		switch out.Status {
		case model.StatusArchived:
			archived++
		case model.StatusSkipped:
			skipped++
		case model.StatusFailed:
			failed++
			metrics.FailuresTotal.WithLabelValues(string(out.Reason)).Inc()
		}
	}

	a.batches.Add(1)
	a.records.Add(uint64(len(outcomes)))
	a.archived.Add(archived)
	a.skipped.Add(skipped)
	a.failed.Add(failed)

	metrics.BatchesTotal.Inc()
	metrics.BatchSize.Observe(float64(len(outcomes)))
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	a.log.InfoContext(ctx, "batch processed",
		"source", source,
		"records", len(outcomes),
		"archived", archived,
		"skipped", skipped,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	for _, h := range a.hooks {
		h.AfterBatch(ctx, source, outcomes)
	}
	return outcomes
}

// Stats is a snapshot of archiver counters since startup.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Batches       uint64 `json:"batches"`
	Records       uint64 `json:"records"`
	Archived      uint64 `json:"archived"`
	Skipped       uint64 `json:"skipped"`
	Failed        uint64 `json:"failed"`
}

// Health returns live status for health checks.
func (a *Archiver) Health() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Batches:       a.batches.Load(),
		Records:       a.records.Load(),
		Archived:      a.archived.Load(),
		Skipped:       a.skipped.Load(),
		Failed:        a.failed.Load(),
	}
}

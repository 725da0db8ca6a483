// Package batch runs the per-record archive pipeline over one delivery:
// decode, classify, derive the path, write. Every input record gets exactly
// one outcome, in input order, and no record's failure ever aborts the rest
// of the batch.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/barrowworks/barrow/internal/archive"
	"github.com/barrowworks/barrow/internal/archivepath"
	"github.com/barrowworks/barrow/internal/classifier"
	"github.com/barrowworks/barrow/internal/decoder"
	"github.com/barrowworks/barrow/internal/metrics"
	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/internal/registry"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

// SourceLookup is the slice of the source registry the processor needs.
type SourceLookup interface {
	Lookup(ctx context.Context, id string) (registry.Source, error)
}

// Config tunes batch processing.
type Config struct {
	// DefaultFormat applies when a batch names no record format.
	DefaultFormat string

	// Workers bounds concurrent record processing. 1 means strictly
	// sequential.
	Workers int

	// RecordTimeout caps each record's store write. 0 disables the cap.
	RecordTimeout time.Duration

	// RequireKnownSources fails records from undeclared sources instead of
	// falling back to lexicographic key order.
	RequireKnownSources bool
}

// Processor archives deletion events batch by batch. It keeps no state
// across invocations: replaying a batch rewrites the same documents at the
// same paths.
type Processor struct {
	decoders *decoder.Registry
	sources  SourceLookup
	writer   *archive.Writer
	cfg      Config
}

// New wires a Processor.
func New(decoders *decoder.Registry, sources SourceLookup, writer *archive.Writer, cfg Config) *Processor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Processor{decoders: decoders, sources: sources, writer: writer, cfg: cfg}
}

// Process handles one batch and returns one outcome per record, in input
// order. When ctx expires mid-batch, records not yet completed are reported
// as transient failures so the feed redelivers exactly those.
func (p *Processor) Process(ctx context.Context, env changefeed.Envelope) []model.BatchOutcome {
	outcomes := make([]model.BatchOutcome, len(env.Records))
	if len(env.Records) == 0 {
		return outcomes
	}

	format := env.Format
	if format == "" {
		format = p.cfg.DefaultFormat
	}
	dec := p.decoders.Find(format)
	if dec == nil {
		err := fmt.Errorf("no decoder for format %q", format)
		for i := range env.Records {
			outcomes[i] = model.Failed(i, "", model.ReasonMalformed, err)
		}
		return outcomes
	}
	hint := decoder.Hint{Source: env.Source}

	if p.cfg.Workers == 1 || len(env.Records) == 1 {
		for i, raw := range env.Records {
			outcomes[i] = p.processOne(ctx, dec, hint, i, raw)
		}
		return outcomes
	}

	type job struct {
		idx int
		raw json.RawMessage
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				// Each worker writes only its own index, so the slice
				// needs no lock and input order is preserved.
				outcomes[j.idx] = p.processOne(ctx, dec, hint, j.idx, j.raw)
			}
		}()
	}
	for i, raw := range env.Records {
		jobs <- job{idx: i, raw: raw}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func (p *Processor) processOne(ctx context.Context, dec decoder.Decoder, hint decoder.Hint, idx int, raw []byte) model.BatchOutcome {
	if err := ctx.Err(); err != nil {
		return model.Failed(idx, "", model.ReasonTransient, err)
	}

	ev, err := dec.Decode(raw, hint)
	if err != nil {
		if decoder.IsMalformed(err) {
			return model.Failed(idx, "", model.ReasonMalformed, err)
		}
		return model.Failed(idx, "", model.ReasonTransient, err)
	}

	res := classifier.Classify(ev)
	if res.Decision == classifier.DecisionSkip {
		return model.Skipped(idx, ev.ID, res.Reason)
	}

	// A removal without its prior state cannot be archived losslessly; the
	// feed did not capture what was deleted.
	if len(ev.PriorState) == 0 {
		return model.Failed(idx, ev.ID, model.ReasonMalformed,
			fmt.Errorf("remove event %s carries no prior state", ev.ID))
	}

	var schema []string
	src, err := p.sources.Lookup(ctx, ev.Source)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		if p.cfg.RequireKnownSources {
			return model.Failed(idx, ev.ID, model.ReasonPermanent,
				fmt.Errorf("source %q is not declared", ev.Source))
		}
	case err != nil:
		return model.Failed(idx, ev.ID, model.ReasonTransient,
			fmt.Errorf("resolve source %q: %w", ev.Source, err))
	case !src.Enabled:
		return model.Skipped(idx, ev.ID, fmt.Sprintf("source %q is disabled", ev.Source))
	default:
		schema = src.KeySchema
	}

	ordered := archivepath.Order(ev.Key, schema)
	path, err := archivepath.Derive(ev.Source, ordered)
	if err != nil {
		return model.Failed(idx, ev.ID, model.ReasonMalformed, err)
	}

	wctx := ctx
	if p.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, p.cfg.RecordTimeout)
		defer cancel()
	}
	ref, err := p.writer.Write(wctx, ev, ordered, path)
	if err != nil {
		return model.Failed(idx, ev.ID, archive.FailureReason(err), err)
	}
	metrics.ArchiveBytesTotal.Add(float64(ref.Size))
	return model.Archived(idx, ev.ID, ref.Path)
}

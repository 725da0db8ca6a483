package stats

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/barrowworks/barrow/internal/archivepath"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/model"
)

// Collector accumulates per-source counters and flushes them to Redis
// periodically. Safe for concurrent use; implements the archiver's batch
// hook.
type Collector struct {
	client        *Client
	flushInterval time.Duration
	log           *logging.Logger

	mu      sync.Mutex
	batches map[string]*BatchUpdate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector creates a collector and starts its background flush loop.
func NewCollector(client *Client, flushInterval time.Duration, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.Default()
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		client:        client,
		flushInterval: flushInterval,
		log:           log,
		batches:       make(map[string]*BatchUpdate),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c
}

// AfterBatch accumulates outcome counts from one processed batch. Archived
// records are attributed to the source encoded in their archive path, so
// mixed-source batches count correctly; skips and failures fall back to
// the batch source.
func (c *Collector) AfterBatch(ctx context.Context, source string, outcomes []model.BatchOutcome) {
	for _, out := range outcomes {
		switch out.Status {
		case model.StatusArchived:
			c.Record(pathSource(out.Path, source), 1, 0, 0, out.Path)
		case model.StatusSkipped:
			c.Record(source, 0, 1, 0, "")
		case model.StatusFailed:
			c.Record(source, 0, 0, 1, "")
		}
	}
}

// pathSource recovers the source name from an archive path.
func pathSource(path, fallback string) string {
	seg, _, ok := strings.Cut(path, "/")
	if !ok {
		return fallback
	}
	source, err := archivepath.Unescape(seg)
	if err != nil {
		return fallback
	}
	return source
}

// Record accumulates counts for a source for later batch flushing.
func (c *Collector) Record(source string, archived, skipped, failed int64, lastPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch, ok := c.batches[source]
	if !ok {
		batch = NewBatchUpdate(source)
		c.batches[source] = batch
	}
	batch.Add(archived, skipped, failed, lastPath)
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			// Final flush on shutdown
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	// Swap out the batches map so the lock is released quickly
	batches := c.batches
	c.batches = make(map[string]*BatchUpdate)
	c.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := 0
	var totalArchived int64

	for _, batch := range batches {
		if err := c.client.FlushBatch(ctx, batch); err != nil {
			c.log.ErrorContext(ctx, "flush stats batch failed",
				"source", batch.Source,
				"archived", batch.Archived,
				"error", err,
			)
			// Merge the failed batch back for retry
			c.mu.Lock()
			if existing, ok := c.batches[batch.Source]; ok {
				existing.Add(batch.Archived, batch.Skipped, batch.Failed, batch.LastPath)
			} else {
				c.batches[batch.Source] = batch
			}
			c.mu.Unlock()
		} else {
			flushed++
			totalArchived += batch.Archived
		}
	}

	if flushed > 0 {
		c.log.DebugContext(ctx, "flushed archive stats", "sources", flushed, "archived", totalArchived)
	}
}

// FlushNow forces an immediate flush of all accumulated counters.
func (c *Collector) FlushNow() {
	c.flush()
}

// Stop halts the flush loop after one final flush.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Pending returns accumulated, not yet flushed archived counts per source.
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make(map[string]int64, len(c.batches))
	for source, batch := range c.batches {
		pending[source] = batch.Archived
	}
	return pending
}

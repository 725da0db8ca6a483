package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/barrowworks/barrow/internal/archive"
	"github.com/barrowworks/barrow/internal/archivepath"
	"github.com/barrowworks/barrow/internal/dlq"
	"github.com/barrowworks/barrow/internal/httputil"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/internal/registry"
	"github.com/barrowworks/barrow/internal/service"
	"github.com/barrowworks/barrow/internal/stats"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

// maxBatchBytes bounds how large one batch request body may be.
const maxBatchBytes = 32 << 20

// ArchiveHandler serves the archiver's HTTP API.
type ArchiveHandler struct {
	svc    *service.Archiver
	writer *archive.Writer
	reg    registry.Registry
	stats  *stats.Client
	queue  dlq.Queue
	log    *logging.Logger
}

// NewArchiveHandler wires the HTTP handlers. stats and queue may be nil
// when those subsystems are not configured.
func NewArchiveHandler(svc *service.Archiver, writer *archive.Writer, reg registry.Registry, statsClient *stats.Client, queue dlq.Queue, log *logging.Logger) *ArchiveHandler {
	if log == nil {
		log = logging.Default()
	}
	return &ArchiveHandler{
		svc:    svc,
		writer: writer,
		reg:    reg,
		stats:  statsClient,
		queue:  queue,
		log:    log,
	}
}

// BatchResponse reports per-record outcomes plus batch totals.
type BatchResponse struct {
	Results  []model.BatchOutcome `json:"results"`
	Received int                  `json:"received"`
	Archived int                  `json:"archived"`
	Skipped  int                  `json:"skipped"`
	Failed   int                  `json:"failed"`
}

// Batch accepts one batch of raw change records and returns one outcome
// per record, in input order. Partial failure answers 206 so callers know
// to inspect results and redeliver selectively.
func (h *ArchiveHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var env changefeed.Envelope
	if err := httputil.DecodeJSON(r, &env, maxBatchBytes); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(env.Records) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "no records provided")
		return
	}

	outcomes := h.svc.Process(r.Context(), env)

	resp := BatchResponse{Results: outcomes, Received: len(outcomes)}
	for _, out := range outcomes {
		switch out.Status {
		case model.StatusArchived:
			resp.Archived++
		case model.StatusSkipped:
			resp.Skipped++
		case model.StatusFailed:
			resp.Failed++
		}
	}

	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusPartialContent
	}
	httputil.WriteJSON(w, status, resp)
}

// DeriveRequest names a record identity to derive a path for.
type DeriveRequest struct {
	Source    string                               `json:"source"`
	Key       map[string]changefeed.AttributeValue `json:"key"`
	KeySchema []string                             `json:"key_schema,omitempty"`
}

// DeriveResponse is the derived path plus the ordered key used.
type DeriveResponse struct {
	Path string               `json:"path"`
	Key  []model.KeyAttribute `json:"key"`
}

// DerivePath derives the archive path for a record identity without
// writing anything. When no key schema is supplied the source's declared
// schema applies.
func (h *ArchiveHandler) DerivePath(w http.ResponseWriter, r *http.Request) {
	var req DeriveRequest
	if err := httputil.DecodeJSON(r, &req, 1<<20); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		httputil.WriteError(w, http.StatusBadRequest, "source is required")
		return
	}
	if len(req.Key) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := changefeed.ValidateImage(req.Key); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	schema := req.KeySchema
	if len(schema) == 0 && h.reg != nil {
		if src, err := h.reg.Lookup(r.Context(), req.Source); err == nil {
			schema = src.KeySchema
		}
	}

	ordered := archivepath.Order(req.Key, schema)
	path, err := archivepath.Derive(req.Source, ordered)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, DeriveResponse{Path: path, Key: ordered})
}

// Document fetches an archived document by path, verifying its signature
// when signing is configured.
func (h *ArchiveHandler) Document(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.WriteError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	doc, err := h.writer.Fetch(r.Context(), path)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrNotFound):
			httputil.WriteError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, archive.ErrBadSignature):
			httputil.WriteError(w, http.StatusConflict, "document signature mismatch")
		default:
			h.log.ErrorContext(r.Context(), "fetch document failed", "path", path, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "fetch failed")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, doc)
}

// ListSources lists declared sources.
func (h *ArchiveHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.reg.List(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "list sources failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "list sources failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// GetSource returns one declared source.
func (h *ArchiveHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	src, err := h.reg.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "source not found")
			return
		}
		h.log.ErrorContext(r.Context(), "lookup source failed", "source", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, src)
}

// UpsertSource declares or updates a source.
func (h *ArchiveHandler) UpsertSource(w http.ResponseWriter, r *http.Request) {
	var src registry.Source
	if err := httputil.DecodeJSON(r, &src, 1<<20); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if src.ID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "source id is required")
		return
	}

	if err := h.reg.Upsert(r.Context(), src); err != nil {
		h.log.ErrorContext(r.Context(), "upsert source failed", "source", src.ID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "upsert failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, src)
}

// DeleteSource removes a source declaration.
func (h *ArchiveHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.reg.Delete(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "source not found")
			return
		}
		h.log.ErrorContext(r.Context(), "delete source failed", "source", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SourceStats reports archive activity counters for one source.
func (h *ArchiveHandler) SourceStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "stats not configured")
		return
	}

	source := r.PathValue("source")
	got, err := h.stats.GetStats(r.Context(), source)
	if err != nil {
		h.log.ErrorContext(r.Context(), "get stats failed", "source", source, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, got)
}

// DLQStats reports dead letter queue counters.
func (h *ArchiveHandler) DLQStats(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "dlq not configured")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.queue.Stats(r.Context()))
}

// DLQRecords lists parked records for inspection.
func (h *ArchiveHandler) DLQRecords(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "dlq not configured")
		return
	}

	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), 100)
	records, err := h.queue.List(r.Context(), limit)
	if err != nil {
		h.log.ErrorContext(r.Context(), "list dlq failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "dlq unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

// Health reports liveness plus processing counters.
func (h *ArchiveHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  h.svc.Health(),
	})
}

// Ready reports whether the archive store is reachable.
func (h *ArchiveHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.writer.Store().Ping(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "archive store unavailable",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

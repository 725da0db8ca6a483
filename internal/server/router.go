package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/barrowworks/barrow/internal/auth"
	"github.com/barrowworks/barrow/internal/handlers"
	"github.com/barrowworks/barrow/internal/middleware"
)

// NewRouter builds the HTTP routing table. Health, readiness and metrics
// stay open; everything else requires auth when auth is enabled.
func NewRouter(h *handlers.ArchiveHandler, authMW *auth.Middleware) http.Handler {
	mux := http.NewServeMux()

	// Batch ingestion
	mux.HandleFunc("POST /services/archiver/v1/batch", authMW.RequireAuth(h.Batch))

	// Path derivation and document retrieval
	mux.HandleFunc("POST /api/v1/paths/derive", authMW.RequireAuth(h.DerivePath))
	mux.HandleFunc("GET /api/v1/documents", authMW.RequireAuth(h.Document))

	// Source registry
	mux.HandleFunc("GET /api/v1/sources", authMW.RequireAuth(h.ListSources))
	mux.HandleFunc("POST /api/v1/sources", authMW.RequireAuth(h.UpsertSource))
	mux.HandleFunc("GET /api/v1/sources/{id}", authMW.RequireAuth(h.GetSource))
	mux.HandleFunc("DELETE /api/v1/sources/{id}", authMW.RequireAuth(h.DeleteSource))

	// Operational visibility
	mux.HandleFunc("GET /api/v1/stats/{source}", authMW.RequireAuth(h.SourceStats))
	mux.HandleFunc("GET /api/v1/dlq/stats", authMW.RequireAuth(h.DLQStats))
	mux.HandleFunc("GET /api/v1/dlq/records", authMW.RequireAuth(h.DLQRecords))

	// Probes and metrics
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}

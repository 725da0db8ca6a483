package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrowworks/barrow/internal/archive"
	"github.com/barrowworks/barrow/internal/batch"
	"github.com/barrowworks/barrow/internal/decoder"
	"github.com/barrowworks/barrow/internal/dlq"
	"github.com/barrowworks/barrow/internal/handlers"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/internal/registry"
	"github.com/barrowworks/barrow/internal/service"
	"github.com/barrowworks/barrow/internal/stats"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

func removeRecord(id, pk string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"eventID": %q,
		"eventName": "REMOVE",
		"dynamodb": {
			"Keys": {"PK": {"S": %q}, "SK": {"S": "PROFILE"}},
			"OldImage": {"PK": {"S": %q}, "SK": {"S": "PROFILE"}, "email": {"S": "x@example.com"}},
			"SequenceNumber": "100"
		}
	}`, id, pk, pk))
}

func insertRecord(id string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"eventID": %q,
		"eventName": "INSERT",
		"dynamodb": {
			"Keys": {"PK": {"S": "NEW#1"}},
			"NewImage": {"PK": {"S": "NEW#1"}}
		}
	}`, id))
}

type handlerOptions struct {
	store archive.ObjectStore
	stats *stats.Client
	queue dlq.Queue
}

func newHandler(t *testing.T, opts handlerOptions) (*handlers.ArchiveHandler, registry.Registry) {
	t.Helper()

	if opts.store == nil {
		opts.store = archive.NewMemoryStore()
	}
	reg := registry.NewStatic([]registry.Source{
		{ID: "users-prod", KeySchema: []string{"PK", "SK"}, Enabled: true},
	})
	writer := archive.NewWriter(opts.store, nil)
	proc := batch.New(
		decoder.NewRegistry(decoder.StreamDecoder{}, decoder.CanonicalDecoder{}),
		reg,
		writer,
		batch.Config{DefaultFormat: decoder.FormatDynamoStreams},
	)
	svc := service.NewArchiver(proc, logging.Default())
	h := handlers.NewArchiveHandler(svc, writer, reg, opts.stats, opts.queue, logging.Default())
	return h, reg
}

func postJSON(t *testing.T, h http.HandlerFunc, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestBatch(t *testing.T) {
	h, _ := newHandler(t, handlerOptions{})

	env := changefeed.Envelope{
		Source: "users-prod",
		Records: []json.RawMessage{
			removeRecord("evt-1", "USER#1"),
			insertRecord("evt-2"),
		},
	}

	w := postJSON(t, h.Batch, "/services/archiver/v1/batch", env)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Received)
	assert.Equal(t, 1, resp.Archived)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, 0, resp.Failed)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "users-prod/PK=USER%231/SK=PROFILE.json", resp.Results[0].Path)
	assert.Equal(t, model.StatusSkipped, resp.Results[1].Status)
}

func TestBatch_PartialFailureReturns206(t *testing.T) {
	h, _ := newHandler(t, handlerOptions{})

	env := changefeed.Envelope{
		Source: "users-prod",
		Records: []json.RawMessage{
			removeRecord("evt-1", "USER#1"),
			json.RawMessage(`{"broken":`),
		},
	}

	w := postJSON(t, h.Batch, "/services/archiver/v1/batch", env)
	require.Equal(t, http.StatusPartialContent, w.Code)

	var resp handlers.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Archived)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, model.ReasonMalformed, resp.Results[1].Reason)
}

func TestBatch_BadRequests(t *testing.T) {
	h, _ := newHandler(t, handlerOptions{})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/services/archiver/v1/batch", strings.NewReader("not json"))
		w := httptest.NewRecorder()
		h.Batch(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		w := postJSON(t, h.Batch, "/services/archiver/v1/batch", changefeed.Envelope{Source: "users-prod"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "no records")
	})
}

func TestDerivePath(t *testing.T) {
	h, _ := newHandler(t, handlerOptions{})

	t.Run("schema from registry", func(t *testing.T) {
		// Key attributes arrive in arbitrary order; the declared schema wins.
		w := postJSON(t, h.DerivePath, "/api/v1/paths/derive", handlers.DeriveRequest{
			Source: "users-prod",
			Key: map[string]changefeed.AttributeValue{
				"SK": {S: strPtr("PROFILE")},
				"PK": {S: strPtr("USER#123")},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp handlers.DeriveResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "users-prod/PK=USER%23123/SK=PROFILE.json", resp.Path)
		require.Len(t, resp.Key, 2)
		assert.Equal(t, "PK", resp.Key[0].Name)
	})

	t.Run("explicit schema overrides", func(t *testing.T) {
		w := postJSON(t, h.DerivePath, "/api/v1/paths/derive", handlers.DeriveRequest{
			Source:    "users-prod",
			KeySchema: []string{"SK", "PK"},
			Key: map[string]changefeed.AttributeValue{
				"SK": {S: strPtr("PROFILE")},
				"PK": {S: strPtr("USER#123")},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp handlers.DeriveResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "users-prod/SK=PROFILE/PK=USER%23123.json", resp.Path)
	})

	t.Run("unknown source falls back to lexicographic", func(t *testing.T) {
		w := postJSON(t, h.DerivePath, "/api/v1/paths/derive", handlers.DeriveRequest{
			Source: "orders-prod",
			Key: map[string]changefeed.AttributeValue{
				"b": {S: strPtr("2")},
				"a": {S: strPtr("1")},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp handlers.DeriveResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "orders-prod/a=1/b=2.json", resp.Path)
	})

	t.Run("missing source", func(t *testing.T) {
		w := postJSON(t, h.DerivePath, "/api/v1/paths/derive", handlers.DeriveRequest{
			Key: map[string]changefeed.AttributeValue{"PK": {S: strPtr("X")}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		w := postJSON(t, h.DerivePath, "/api/v1/paths/derive", handlers.DeriveRequest{Source: "users-prod"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDocument(t *testing.T) {
	h, _ := newHandler(t, handlerOptions{})

	env := changefeed.Envelope{
		Source:  "users-prod",
		Records: []json.RawMessage{removeRecord("evt-1", "USER#1")},
	}
	w := postJSON(t, h.Batch, "/services/archiver/v1/batch", env)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents?path=users-prod%2FPK%3DUSER%25231%2FSK%3DPROFILE.json", nil)
		w := httptest.NewRecorder()
		h.Document(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		doc, err := model.ParseDocument(w.Body.Bytes())
		require.NoError(t, err)
		assert.Equal(t, "evt-1", doc.EventID)
		assert.Equal(t, "users-prod", doc.Source)
	})

	t.Run("missing path param", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
		w := httptest.NewRecorder()
		h.Document(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents?path=users-prod%2Fnope.json", nil)
		w := httptest.NewRecorder()
		h.Document(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSourceCRUD(t *testing.T) {
	h, _ := newHandler(t, handlerOptions{})

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
		w := httptest.NewRecorder()
		h.ListSources(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Sources []registry.Source `json:"sources"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Sources, 1)
		assert.Equal(t, "users-prod", resp.Sources[0].ID)
	})

	t.Run("upsert then get", func(t *testing.T) {
		w := postJSON(t, h.UpsertSource, "/api/v1/sources", registry.Source{
			ID:        "orders-prod",
			KeySchema: []string{"OrderID"},
			Enabled:   true,
		})
		require.Equal(t, http.StatusOK, w.Code)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sources/orders-prod", nil)
		req.SetPathValue("id", "orders-prod")
		w = httptest.NewRecorder()
		h.GetSource(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var src registry.Source
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &src))
		assert.Equal(t, []string{"OrderID"}, src.KeySchema)
	})

	t.Run("upsert without id", func(t *testing.T) {
		w := postJSON(t, h.UpsertSource, "/api/v1/sources", registry.Source{Enabled: true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get unknown", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sources/ghost", nil)
		req.SetPathValue("id", "ghost")
		w := httptest.NewRecorder()
		h.GetSource(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/sources/users-prod", nil)
		req.SetPathValue("id", "users-prod")
		w := httptest.NewRecorder()
		h.DeleteSource(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)

		req = httptest.NewRequest(http.MethodDelete, "/api/v1/sources/users-prod", nil)
		req.SetPathValue("id", "users-prod")
		w = httptest.NewRecorder()
		h.DeleteSource(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSourceStats(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h, _ := newHandler(t, handlerOptions{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/users-prod", nil)
		req.SetPathValue("source", "users-prod")
		w := httptest.NewRecorder()
		h.SourceStats(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("configured", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		sc := stats.NewClientFromRedis(client, "test-instance")

		require.NoError(t, sc.FlushBatch(context.Background(), &stats.BatchUpdate{
			Source:   "users-prod",
			Archived: 3,
			LastPath: "users-prod/PK=USER%231/SK=PROFILE.json",
		}))

		h, _ := newHandler(t, handlerOptions{stats: sc})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/users-prod", nil)
		req.SetPathValue("source", "users-prod")
		w := httptest.NewRecorder()
		h.SourceStats(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var got stats.Stats
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, int64(3), got.TotalArchived)
		assert.Equal(t, "users-prod/PK=USER%231/SK=PROFILE.json", got.LastPath)
	})
}

func TestDLQEndpoints(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h, _ := newHandler(t, handlerOptions{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/stats", nil)
		w := httptest.NewRecorder()
		h.DLQStats(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		req = httptest.NewRequest(http.MethodGet, "/api/v1/dlq/records", nil)
		w = httptest.NewRecorder()
		h.DLQRecords(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("file backed", func(t *testing.T) {
		queue, err := dlq.NewFileQueue(t.TempDir(), logging.Default())
		require.NoError(t, err)
		require.NoError(t, queue.Write(context.Background(), dlq.FailedRecord{
			Source: "users-prod",
			Record: json.RawMessage(`{"broken":true}`),
			Reason: "malformed",
		}))

		h, _ := newHandler(t, handlerOptions{queue: queue})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/stats", nil)
		w := httptest.NewRecorder()
		h.DLQStats(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"backend":"file"`)

		req = httptest.NewRequest(http.MethodGet, "/api/v1/dlq/records?limit=10", nil)
		w = httptest.NewRecorder()
		h.DLQRecords(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Records []dlq.FailedRecord `json:"records"`
			Count   int                `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "users-prod", resp.Records[0].Source)
	})
}

func TestHealth(t *testing.T) {
	h, _ := newHandler(t, handlerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string        `json:"status"`
		Stats  service.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, uint64(0), resp.Stats.Batches)
}

type downStore struct {
	archive.ObjectStore
}

func (downStore) Ping(ctx context.Context) error { return errors.New("store offline") }

func TestReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h, _ := newHandler(t, handlerOptions{})
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		h.Ready(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"ready"`)
	})

	t.Run("store unavailable", func(t *testing.T) {
		h, _ := newHandler(t, handlerOptions{store: downStore{archive.NewMemoryStore()}})
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		h.Ready(w, req)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "not ready")
	})
}

func strPtr(s string) *string { return &s }

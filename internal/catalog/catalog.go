// Package catalog maintains a searchable OpenSearch index of archived
// documents. The archive itself stays authoritative; the catalog is a
// lookup aid and its failures never change batch outcomes.
package catalog

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/barrowworks/barrow/internal/archivepath"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/metrics"
	"github.com/barrowworks/barrow/internal/model"
)

// Config holds OpenSearch connection and index settings.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
	ShardCount    int
	ReplicaCount  int
}

// DefaultConfig returns sensible defaults for a local OpenSearch.
func DefaultConfig() Config {
	return Config{
		URL:           "https://localhost:9200",
		Username:      "admin",
		Password:      "admin",
		TLSSkipVerify: true,
		IndexPrefix:   "barrow-catalog",
		ShardCount:    1,
		ReplicaCount:  0,
	}
}

// Entry is the searchable summary of one archived document.
type Entry struct {
	Path       string            `json:"path"`
	EventID    string            `json:"event_id"`
	Source     string            `json:"source"`
	Key        map[string]string `json:"key,omitempty"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// IndexResult counts the per-entry outcomes of one bulk request.
type IndexResult struct {
	Indexed int
	Failed  int
	Errors  []string
}

// Indexer writes catalog entries to OpenSearch in bulk.
type Indexer struct {
	client *opensearch.Client
	cfg    Config
	log    *logging.Logger
}

// NewIndexer creates an Indexer. The connection is verified lazily by
// Initialize.
func NewIndexer(cfg Config, log *logging.Logger) (*Indexer, error) {
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "barrow-catalog"
	}
	if log == nil {
		log = logging.Default()
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	return &Indexer{client: client, cfg: cfg, log: log}, nil
}

// IndexName returns the index catalog entries are written to.
func (ix *Indexer) IndexName() string {
	return ix.cfg.IndexPrefix
}

// Initialize verifies the connection and installs the index template.
func (ix *Indexer) Initialize(ctx context.Context) error {
	info, err := ix.client.Info()
	if err != nil {
		return fmt.Errorf("connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := ix.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("create index template: %w", err)
	}
	return nil
}

func (ix *Indexer) createIndexTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{ix.cfg.IndexPrefix + "*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   ix.cfg.ShardCount,
				"number_of_replicas": ix.cfg.ReplicaCount,
				"codec":              "best_compression",
			},
			"mappings": map[string]any{
				"dynamic_templates": []map[string]any{
					{
						"key_values_as_keywords": map[string]any{
							"path_match":         "key.*",
							"match_mapping_type": "string",
							"mapping":            map[string]any{"type": "keyword"},
						},
					},
				},
				"properties": map[string]any{
					"path":        map[string]any{"type": "keyword"},
					"event_id":    map[string]any{"type": "keyword"},
					"source":      map[string]any{"type": "keyword"},
					"archived_at": map[string]any{"type": "date"},
				},
			},
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := ix.client.Indices.PutIndexTemplate(
		ix.cfg.IndexPrefix+"-template",
		bytes.NewReader(body),
		ix.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("put index template: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// IndexBatch bulk-indexes entries, keyed by archive path so replays
// overwrite instead of duplicating. Per-entry failures are collected, not
// returned as an error.
func (ix *Indexer) IndexBatch(ctx context.Context, entries []Entry) *IndexResult {
	result := &IndexResult{}
	if len(entries) == 0 {
		return result
	}

	// A single worker keeps the result callbacks sequential.
	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     ix.client,
		Index:      ix.cfg.IndexPrefix,
		NumWorkers: 1,
	})
	if err != nil {
		result.Failed = len(entries)
		result.Errors = append(result.Errors, fmt.Sprintf("create bulk indexer: %v", err))
		return result
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("marshal entry %s: %v", entry.Path, err))
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: entry.Path,
			Body:       bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				result.Indexed++
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				result.Failed++
				if err != nil {
					result.Errors = append(result.Errors, err.Error())
				} else {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason))
				}
			},
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("add to bulk indexer: %v", err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("bulk indexer close: %v", err))
	}

	metrics.CatalogIndexedTotal.Add(float64(result.Indexed))
	metrics.CatalogErrors.Add(float64(result.Failed))
	return result
}

// AfterBatch indexes summaries for the archived outcomes of one batch. The
// record identity is recovered from each archive path.
func (ix *Indexer) AfterBatch(ctx context.Context, source string, outcomes []model.BatchOutcome) {
	now := time.Now().UTC()
	entries := make([]Entry, 0, len(outcomes))
	for _, out := range outcomes {
		if out.Status != model.StatusArchived {
			continue
		}
		entry := Entry{
			Path:       out.Path,
			EventID:    out.EventID,
			Source:     source,
			ArchivedAt: now,
		}
		if id, err := archivepath.Parse(out.Path); err == nil {
			entry.Source = id.Source
			entry.Key = make(map[string]string, len(id.Key))
			for _, attr := range id.Key {
				entry.Key[attr.Name] = attr.Value
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return
	}

	result := ix.IndexBatch(ctx, entries)
	if result.Failed > 0 {
		ix.log.WarnContext(ctx, "catalog indexing incomplete",
			"indexed", result.Indexed,
			"failed", result.Failed,
			"errors", result.Errors,
		)
	}
}

package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/barrowworks/barrow/internal/logging"
)

// FileQueue spools failed records to a local directory. Suitable for
// single-instance deployments and as a fallback when no JetStream DLQ is
// configured.
type FileQueue struct {
	basePath string
	log      *logging.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates a DLQ that writes to the given directory, creating
// it if needed.
func NewFileQueue(basePath string, log *logging.Logger) (*FileQueue, error) {
	if basePath == "" {
		return nil, fmt.Errorf("dlq: base path is required")
	}
	if log == nil {
		log = logging.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{basePath: basePath, log: log}, nil
}

// Write records a failed record as a timestamped JSON file.
func (q *FileQueue) Write(ctx context.Context, rec FailedRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	filename := fmt.Sprintf("failed_%d_%d.json", rec.Timestamp.UnixNano(), q.written)
	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.log.DebugContext(ctx, "dlq entry written", "file", filename, "reason", rec.Reason)
	return nil
}

// Stats reports queue counters and the number of spooled files.
func (q *FileQueue) Stats(ctx context.Context) map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return map[string]any{
			"backend": "file",
			"written": q.written,
			"error":   err.Error(),
		}
	}
	return map[string]any{
		"backend":       "file",
		"written":       q.written,
		"pending_files": len(files),
		"base_path":     q.basePath,
	}
}

// List returns up to limit spooled records. Unreadable files are skipped.
func (q *FileQueue) List(ctx context.Context, limit int) ([]FailedRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}

	var records []FailedRecord
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if limit > 0 && len(records) >= limit {
			break
		}

		data, err := os.ReadFile(filepath.Join(q.basePath, file.Name()))
		if err != nil {
			q.log.WarnContext(ctx, "unreadable dlq file", "file", file.Name(), "error", err)
			continue
		}
		var rec FailedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			q.log.WarnContext(ctx, "unparseable dlq file", "file", file.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Purge removes all spooled records.
func (q *FileQueue) Purge(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return fmt.Errorf("read dlq directory: %w", err)
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(q.basePath, file.Name())); err != nil {
			return fmt.Errorf("delete dlq file %s: %w", file.Name(), err)
		}
	}
	return nil
}

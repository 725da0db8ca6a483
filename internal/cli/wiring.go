package cli

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/barrowworks/barrow/internal/archive"
	"github.com/barrowworks/barrow/internal/config"
	"github.com/barrowworks/barrow/internal/dlq"
	"github.com/barrowworks/barrow/internal/logging"
)

// openStore builds the configured archive store. The returned cleanup is
// never nil and safe to call once.
func openStore(ctx context.Context, cfg *config.Config) (archive.ObjectStore, func(), error) {
	noop := func() {}

	switch cfg.Archive.Backend {
	case "memory":
		return archive.NewMemoryStore(), noop, nil
	case "file", "":
		fs, err := archive.NewFileStore(cfg.Archive.File.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open file store: %w", err)
		}
		return fs, noop, nil
	case "s3":
		st, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket:    cfg.Archive.S3.Bucket,
			Region:    cfg.Archive.S3.Region,
			Endpoint:  cfg.Archive.S3.Endpoint,
			PathStyle: cfg.Archive.S3.PathStyle,
			AccessKey: cfg.Archive.S3.AccessKey,
			SecretKey: cfg.Archive.S3.SecretKey,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open s3 store: %w", err)
		}
		return st, noop, nil
	case "nats":
		st, err := archive.NewNATSStore(ctx, archive.NATSConfig{
			URL:    cfg.Archive.NATS.URL,
			Bucket: cfg.Archive.NATS.Bucket,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open nats object store: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown archive backend: %s (supported: file, s3, nats, memory)", cfg.Archive.Backend)
	}
}

// openQueue builds the configured dead letter queue. Returns a nil queue
// when the DLQ is disabled.
func openQueue(ctx context.Context, cfg *config.Config, logger *logging.Logger) (dlq.Queue, func(), error) {
	noop := func() {}

	if !cfg.DLQ.Enabled {
		return nil, noop, nil
	}

	switch cfg.DLQ.Backend {
	case "jetstream":
		conn, err := nats.Connect(cfg.DLQ.NatsURL, nats.Name("barrow-dlq"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, noop, fmt.Errorf("connect to NATS for dlq: %w", err)
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, noop, fmt.Errorf("create JetStream context for dlq: %w", err)
		}
		q, err := dlq.NewJetStreamQueue(ctx, js, logger)
		if err != nil {
			conn.Close()
			return nil, noop, fmt.Errorf("initialize jetstream dlq: %w", err)
		}
		return q, conn.Close, nil
	case "file", "":
		q, err := dlq.NewFileQueue(cfg.DLQ.BasePath, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("initialize file dlq: %w", err)
		}
		return q, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown dlq backend: %s (supported: jetstream, file)", cfg.DLQ.Backend)
	}
}

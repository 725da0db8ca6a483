package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig holds connection settings for a JetStream object-store bucket.
type NATSConfig struct {
	URL    string
	Bucket string
}

// NATSStore is an ObjectStore over a JetStream object-store bucket. It
// suits deployments that already run NATS for the feed and want the
// archive co-located.
type NATSStore struct {
	conn   *nats.Conn
	bucket jetstream.ObjectStore
	name   string
}

// NewNATSStore connects and creates the bucket when missing.
func NewNATSStore(ctx context.Context, cfg NATSConfig) (*NATSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("nats store: bucket is required")
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("barrow-archive"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	bucket, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      cfg.Bucket,
		Description: "barrow archive documents",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open object store bucket %s: %w", cfg.Bucket, err)
	}

	return &NATSStore{conn: conn, bucket: bucket, name: cfg.Bucket}, nil
}

// Name identifies the backend.
func (s *NATSStore) Name() string { return "nats" }

// Put stores data at path, overwriting any existing object.
func (s *NATSStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.bucket.Put(ctx, jetstream.ObjectMeta{
		Name: path,
		Headers: nats.Header{
			"Content-Type": []string{contentType},
		},
	}, bytes.NewReader(data))
	if err != nil {
		return s.classify(path, err)
	}
	return nil
}

// Get returns the object at path.
func (s *NATSStore) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, path)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.classify(path, err)
	}
	return data, nil
}

// List returns object paths with the given prefix, in bucket order.
func (s *NATSStore) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.bucket.List(ctx)
	if errors.Is(err, jetstream.ErrNoObjectsFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify(prefix, err)
	}
	var out []string
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		if strings.HasPrefix(info.Name, prefix) {
			out = append(out, info.Name)
		}
	}
	return out, nil
}

// Delete removes the object at path.
func (s *NATSStore) Delete(ctx context.Context, path string) error {
	err := s.bucket.Delete(ctx, path)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return ErrNotFound
	}
	return err
}

// Ping checks bucket reachability.
func (s *NATSStore) Ping(ctx context.Context) error {
	if !s.conn.IsConnected() {
		return errors.New("nats connection down")
	}
	_, err := s.bucket.Status(ctx)
	return err
}

// Close drains the connection.
func (s *NATSStore) Close() {
	s.conn.Close()
}

// classify maps JetStream errors onto the failure taxonomy. Bucket
// misconfiguration is permanent; connectivity and everything else is
// transient.
func (s *NATSStore) classify(path string, err error) *WriteError {
	if werr := classifyCtx(s.Name(), path, err); werr != nil {
		return werr
	}
	if errors.Is(err, jetstream.ErrBucketNotFound) || errors.Is(err, jetstream.ErrInvalidStoreName) {
		return Permanent(s.Name(), path, err)
	}
	return Transient(s.Name(), path, err)
}

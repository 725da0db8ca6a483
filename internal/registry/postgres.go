package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const opTimeout = 5 * time.Second

// Postgres is a Registry backed by a sources table, for deployments where
// several archiver replicas must agree on key schemas.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Lookup returns the source with the given id.
func (p *Postgres) Lookup(ctx context.Context, id string) (Source, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		src        = Source{ID: id}
		schemaJSON []byte
	)
	query := `SELECT key_schema, enabled FROM sources WHERE id = $1`
	err := p.pool.QueryRow(ctx, query, id).Scan(&schemaJSON, &src.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, fmt.Errorf("lookup source %s: %w", id, err)
	}

	if err := json.Unmarshal(schemaJSON, &src.KeySchema); err != nil {
		return Source{}, fmt.Errorf("unmarshal key schema for %s: %w", id, err)
	}
	return src, nil
}

// List returns all sources ordered by id.
func (p *Postgres) List(ctx context.Context) ([]Source, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx, `SELECT id, key_schema, enabled FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var (
			src        Source
			schemaJSON []byte
		)
		if err := rows.Scan(&src.ID, &schemaJSON, &src.Enabled); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if err := json.Unmarshal(schemaJSON, &src.KeySchema); err != nil {
			return nil, fmt.Errorf("unmarshal key schema for %s: %w", src.ID, err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a source.
func (p *Postgres) Upsert(ctx context.Context, src Source) error {
	if src.ID == "" {
		return fmt.Errorf("source id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	schemaJSON, err := json.Marshal(src.KeySchema)
	if err != nil {
		return fmt.Errorf("marshal key schema: %w", err)
	}

	query := `
		INSERT INTO sources (id, key_schema, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET key_schema = EXCLUDED.key_schema,
		    enabled = EXCLUDED.enabled,
		    updated_at = NOW()
	`
	if _, err := p.pool.Exec(ctx, query, src.ID, schemaJSON, src.Enabled); err != nil {
		return fmt.Errorf("upsert source %s: %w", src.ID, err)
	}
	return nil
}

// Delete removes a source.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

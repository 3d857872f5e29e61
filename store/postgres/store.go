// Package postgres implements the opt-in relational backend (C3) used for
// persistent per-user memory, against the schema specified in §6:
// schema "memory", table "nodes", with a partial unique index over the
// JSONB entity identity fields for entity deduplication, plus a unique
// index on (user_id, context_type) that Put's upsert relies on.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"goa.design/orchestra/store"
)

// Config configures the pgxpool connection.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string
	// PoolSize is the maximum number of pooled connections. Default 20.
	PoolSize int32
}

// Backend implements store.Backend over Postgres. The key/value contract
// is mapped onto the spec's nodes table by taking ns[1] as user_id and
// key as context_type, so a single row is addressable by (namespace, key)
// without losing the schema's literal shape; ns[0] is not stored.
type Backend struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres, applies the pool size default, and ensures
// the memory.nodes schema and table exist.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 20
	}
	poolCfg.MaxConns = cfg.PoolSize

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	b := &Backend{pool: pool}
	if err := b.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) initSchema(ctx context.Context) error {
	const ddl = `
CREATE SCHEMA IF NOT EXISTS memory;

CREATE TABLE IF NOT EXISTS memory.nodes (
	user_id      TEXT NOT NULL,
	node_id      UUID PRIMARY KEY,
	context_type TEXT,
	content      JSONB,
	summary      TEXT,
	created_at   TIMESTAMPTZ DEFAULT now(),
	updated_at   TIMESTAMPTZ DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS nodes_user_context_uidx
	ON memory.nodes (user_id, context_type);

CREATE UNIQUE INDEX IF NOT EXISTS nodes_entity_uidx
	ON memory.nodes (user_id, (content->>'entity_id'), (content->>'entity_system'))
	WHERE content->>'entity_id' IS NOT NULL;
`
	_, err := b.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("initializing postgres schema: %w", err)
	}
	return nil
}

// Get implements store.Backend. ns[0] is conventionally "memory" and ns[1]
// the user id; key addresses context_type.
func (b *Backend) Get(ctx context.Context, ns store.Namespace, key string) ([]byte, error) {
	userID, err := userIDFromNamespace(ns)
	if err != nil {
		return nil, err
	}
	var content []byte
	row := b.pool.QueryRow(ctx,
		`SELECT content FROM memory.nodes WHERE user_id = $1 AND context_type = $2`,
		userID, key)
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return content, nil
}

// Put implements store.Backend, upserting on (user_id, context_type).
func (b *Backend) Put(ctx context.Context, ns store.Namespace, key string, value []byte) error {
	userID, err := userIDFromNamespace(ns)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO memory.nodes (user_id, node_id, context_type, content, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, context_type)
		DO UPDATE SET content = excluded.content, updated_at = now()`,
		userID, uuid.New(), key, value)
	if err != nil {
		return fmt.Errorf("postgres put: %w", err)
	}
	return nil
}

// List implements store.Backend.
func (b *Backend) List(ctx context.Context, ns store.Namespace) ([]store.Record, error) {
	userID, err := userIDFromNamespace(ns)
	if err != nil {
		return nil, err
	}
	rows, err := b.pool.Query(ctx,
		`SELECT context_type, content FROM memory.nodes WHERE user_id = $1 ORDER BY context_type`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, fmt.Errorf("postgres list scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, ns store.Namespace, key string) error {
	userID, err := userIDFromNamespace(ns)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx,
		`DELETE FROM memory.nodes WHERE user_id = $1 AND context_type = $2`, userID, key)
	if err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func userIDFromNamespace(ns store.Namespace) (string, error) {
	if len(ns) < 2 {
		return "", fmt.Errorf("postgres backend requires a (memory, user_id) namespace, got %s", ns)
	}
	return ns[1], nil
}

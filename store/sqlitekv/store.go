// Package sqlitekv implements the embedded single-file key/value backend
// (C3 default): one table of (namespace, key, value) rows in a WAL-mode
// SQLite database, with one writer at a time and concurrent readers.
package sqlitekv

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"goa.design/orchestra/store"
)

// Backend implements store.Backend over a single SQLite file.
type Backend struct {
	db *sql.DB
}

// Open creates or attaches to the SQLite file at path, enabling foreign
// keys, WAL journaling, and a busy timeout so concurrent readers don't
// immediately fail against the single writer.
func Open(path string) (*Backend, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// WAL mode already lets readers proceed concurrently with the single
	// in-progress writer at the SQLite level (the busy timeout above
	// covers writer/writer contention); capping Go's pool at one
	// connection would serialize reads behind it too, so leave a small
	// pool open instead.
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite store: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return &Backend{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS kv (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);`
	_, err := db.Exec(ddl)
	return err
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, ns store.Namespace, key string) ([]byte, error) {
	row := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE namespace = ? AND key = ?`, ns.String(), key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitekv get: %w", err)
	}
	return value, nil
}

// Put implements store.Backend.
func (b *Backend) Put(ctx context.Context, ns store.Namespace, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`,
		ns.String(), key, value)
	if err != nil {
		return fmt.Errorf("sqlitekv put: %w", err)
	}
	return nil
}

// List implements store.Backend.
func (b *Backend) List(ctx context.Context, ns store.Namespace) ([]store.Record, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE namespace = ? ORDER BY key`, ns.String())
	if err != nil {
		return nil, fmt.Errorf("sqlitekv list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, fmt.Errorf("sqlitekv list scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, ns store.Namespace, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, ns.String(), key)
	if err != nil {
		return fmt.Errorf("sqlitekv delete: %w", err)
	}
	return nil
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}

package localstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"example.com/treniren/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// usageQuery counts bytes, matching MemoryBackend. LENGTH on TEXT counts characters.
const usageQuery = `SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM kv`

// SQLiteBackend persists the namespace in a SQLite file shared by every process on the device.
type SQLiteBackend struct {
	broadcaster
	db    *sql.DB
	path  string
	quota int64
}

// OpenSQLite opens (or creates) the store database at path. A quota <= 0 selects DefaultQuota.
func OpenSQLite(path string, quota int64) (*SQLiteBackend, error) {
	db, err := sqlitedb.Open(path, schemaSQL)
	if err != nil {
		return nil, err
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &SQLiteBackend{db: db, path: path, quota: quota}, nil
}

// Path returns the database file location.
func (b *SQLiteBackend) Path() string {
	return b.path
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Get implements Backend.
func (b *SQLiteBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Update implements Backend inside a single SQL transaction.
func (b *SQLiteBackend) Update(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stx := &sqliteTx{ctx: ctx, tx: tx, changed: make(map[string]struct{})}
	if err = fn(stx); err != nil {
		return err
	}

	var used int64
	if err = tx.QueryRowContext(ctx, usageQuery).Scan(&used); err != nil {
		return err
	}
	if used > b.quota {
		err = ErrQuotaExceeded
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	keys := make([]string, 0, len(stx.changed))
	for k := range stx.changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.publish(keys)
	return nil
}

// Keys implements Backend.
func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Size implements Backend.
func (b *SQLiteBackend) Size(ctx context.Context) (int64, int64, error) {
	var used int64
	if err := b.db.QueryRowContext(ctx, usageQuery).Scan(&used); err != nil {
		return 0, b.quota, err
	}
	return used, b.quota, nil
}

type sqliteTx struct {
	ctx     context.Context
	tx      *sql.Tx
	changed map[string]struct{}
}

func (t *sqliteTx) Get(key string) (string, bool, error) {
	var value string
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func (t *sqliteTx) Set(key, value string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	t.changed[key] = struct{}{}
	return nil
}

func (t *sqliteTx) Remove(key string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	t.changed[key] = struct{}{}
	return nil
}

package swcache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/treniren/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStorage persists partitions so the warm cache survives proxy restarts.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (or creates) the cache database at path.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sqlitedb.Open(path, schemaSQL)
	if err != nil {
		return nil, err
	}
	return &SQLiteStorage{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Open implements Storage.
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Cache, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

// Has implements Storage.
func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM caches WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete implements Storage.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Keys implements Storage.
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT name FROM caches ORDER BY name`)
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

func (c *sqliteCache) Match(ctx context.Context, req *http.Request) (*Response, bool, error) {
	if req.Method != http.MethodGet {
		return nil, false, nil
	}
	var (
		resp     Response
		header   string
		storedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM cache_entries WHERE cache_name = ? AND url = ?`,
		c.name, Key(req)).Scan(&resp.Status, &header, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, false, fmt.Errorf("decode cached header: %w", err)
	}
	resp.StoredAt = time.UnixMilli(storedAt).UTC()
	return &resp, true, nil
}

func (c *sqliteCache) Put(ctx context.Context, req *http.Request, resp *Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_name, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, url) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		c.name, Key(req), resp.Status, string(header), body, storedAt.UnixMilli())
	return err
}

func (c *sqliteCache) Delete(ctx context.Context, req *http.Request) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = ? AND url = ?`, c.name, Key(req))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.db, `SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY url`, c.name)
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

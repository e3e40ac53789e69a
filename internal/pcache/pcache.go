// Package pcache implements the PersistentCache of spec.md §4.6: a durable,
// on-disk response cache that survives process restarts, single-writer and
// shared-nothing across processes.
//
// Grounded on allaspectsdev-tokenman's internal/store.Store: a writer
// connection capped at one open connection (serializing all mutations) and
// a separate pooled, read-only reader connection, both over WAL-mode
// modernc.org/sqlite, with a versioned migrations table so the schema can
// evolve without a destructive rewrite.
package pcache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRelativePath is the platform-relative default location of the
// cache file, per spec.md §6: "UnifyMcp/ResponseCache/response_cache.db"
// under the user-data directory.
const DefaultRelativePath = "UnifyMcp/ResponseCache/response_cache.db"

// StorageError wraps any I/O failure talking to the persistent cache, per
// spec.md §7. ContextWindowManager treats any error from Get or Put as
// "skip and continue" rather than propagating it to the caller of
// process().
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("pcache: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Row is PersistentCacheRow from spec.md §3.
type Row struct {
	ToolName           string
	RequestFingerprint string
	ParametersJSON     string
	Response           string
	CachedAt           time.Time
	ExpiresAt          time.Time
	HitCount           int64
	LastAccessed       time.Time
}

// Stats is the aggregate shape returned by Stats(), per spec.md §4.6.
type Stats struct {
	TotalEntries   int
	ExpiredEntries int
	TotalHits      int64
	CacheSizeBytes int64
	PerToolCounts  map[string]int
}

// Cache is PersistentCache.
type Cache struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

// DefaultPath resolves the default cache file location under the user's
// config directory. It creates nothing; Open creates parent directories.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultRelativePath), nil
}

// Open opens (creating if absent) the sqlite-backed cache at path, applies
// migrations, and wires up the writer/reader connection split.
func Open(path string) (*Cache, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, &StorageError{Op: "resolve default path", Err: err}
		}
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "mkdir", Err: err}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open writer", Err: err}
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", dsn+"&_pragma=query_only(1)")
	if err != nil {
		writer.Close()
		return nil, &StorageError{Op: "open reader", Err: err}
	}

	c := &Cache{writer: writer, reader: reader, path: path}
	if err := c.migrate(); err != nil {
		writer.Close()
		reader.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	return c, nil
}

// Get implements spec.md §4.6 get: returns the cached response if present
// and unexpired, incrementing hit_count and updating last_accessed. An
// expired row is deleted and treated as absent.
func (c *Cache) Get(ctx context.Context, tool, fingerprint string) (string, bool, error) {
	var response, expiresAtStr string
	row := c.reader.QueryRowContext(ctx,
		`SELECT response, expires_at FROM response_cache WHERE tool_name = ? AND request_fingerprint = ?`,
		tool, fingerprint)
	if err := row.Scan(&response, &expiresAtStr); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, &StorageError{Op: "get", Err: err}
	}
	expiresAt, err := time.Parse(time.RFC3339, expiresAtStr)
	if err != nil {
		return "", false, &StorageError{Op: "get parse expires_at", Err: err}
	}

	if time.Now().After(expiresAt) {
		_, _ = c.writer.ExecContext(ctx,
			`DELETE FROM response_cache WHERE tool_name = ? AND request_fingerprint = ?`, tool, fingerprint)
		return "", false, nil
	}

	if _, err := c.writer.ExecContext(ctx,
		`UPDATE response_cache SET hit_count = hit_count + 1, last_accessed = ? WHERE tool_name = ? AND request_fingerprint = ?`,
		time.Now().UTC().Format(time.RFC3339), tool, fingerprint); err != nil {
		return "", false, &StorageError{Op: "touch hit_count", Err: err}
	}

	return response, true, nil
}

// Put implements spec.md §4.6 put: INSERT OR REPLACE keyed on
// (tool_name, request_fingerprint).
func (c *Cache) Put(ctx context.Context, tool, fingerprint, paramsJSON, response string, duration time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(duration)
	_, err := c.writer.ExecContext(ctx, `
		INSERT INTO response_cache
			(tool_name, request_fingerprint, parameters_json, response, cached_at, expires_at, hit_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(tool_name, request_fingerprint) DO UPDATE SET
			parameters_json = excluded.parameters_json,
			response        = excluded.response,
			cached_at       = excluded.cached_at,
			expires_at      = excluded.expires_at,
			hit_count       = 0,
			last_accessed   = excluded.last_accessed`,
		tool, fingerprint, paramsJSON, response,
		now.Format(time.RFC3339), expiresAt.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

// InvalidateTool deletes every row for tool.
func (c *Cache) InvalidateTool(ctx context.Context, tool string) error {
	if _, err := c.writer.ExecContext(ctx, `DELETE FROM response_cache WHERE tool_name = ?`, tool); err != nil {
		return &StorageError{Op: "invalidate tool", Err: err}
	}
	return nil
}

// Invalidate deletes the single row for (tool, fingerprint).
func (c *Cache) Invalidate(ctx context.Context, tool, fingerprint string) error {
	if _, err := c.writer.ExecContext(ctx,
		`DELETE FROM response_cache WHERE tool_name = ? AND request_fingerprint = ?`, tool, fingerprint); err != nil {
		return &StorageError{Op: "invalidate", Err: err}
	}
	return nil
}

// Clear deletes every row.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.writer.ExecContext(ctx, `DELETE FROM response_cache`); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

// CleanupExpired deletes every row whose expires_at has passed, returning
// the count deleted.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := c.writer.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at < ?`, now)
	if err != nil {
		return 0, &StorageError{Op: "cleanup_expired", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats implements spec.md §4.6 stats.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	s.PerToolCounts = make(map[string]int)
	now := time.Now().UTC().Format(time.RFC3339)

	if err := c.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM response_cache`).Scan(&s.TotalEntries); err != nil {
		return Stats{}, &StorageError{Op: "stats total", Err: err}
	}
	if err := c.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM response_cache WHERE expires_at < ?`, now).Scan(&s.ExpiredEntries); err != nil {
		return Stats{}, &StorageError{Op: "stats expired", Err: err}
	}
	var totalHits sql.NullInt64
	if err := c.reader.QueryRowContext(ctx, `SELECT SUM(hit_count) FROM response_cache`).Scan(&totalHits); err != nil {
		return Stats{}, &StorageError{Op: "stats hits", Err: err}
	}
	s.TotalHits = totalHits.Int64
	var sizeBytes sql.NullInt64
	if err := c.reader.QueryRowContext(ctx, `SELECT SUM(LENGTH(response)) FROM response_cache`).Scan(&sizeBytes); err != nil {
		return Stats{}, &StorageError{Op: "stats size", Err: err}
	}
	s.CacheSizeBytes = sizeBytes.Int64

	rows, err := c.reader.QueryContext(ctx,
		`SELECT tool_name, COUNT(*) c FROM response_cache GROUP BY tool_name ORDER BY c DESC LIMIT 10`)
	if err != nil {
		return Stats{}, &StorageError{Op: "stats per_tool", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var tool string
		var count int
		if err := rows.Scan(&tool, &count); err != nil {
			return Stats{}, &StorageError{Op: "stats per_tool scan", Err: err}
		}
		s.PerToolCounts[tool] = count
	}
	return s, nil
}

// TopEntries returns the n rows with the highest hit_count.
func (c *Cache) TopEntries(ctx context.Context, n int) ([]Row, error) {
	rows, err := c.reader.QueryContext(ctx, `
		SELECT tool_name, request_fingerprint, parameters_json, response, cached_at, expires_at, hit_count, last_accessed
		FROM response_cache ORDER BY hit_count DESC LIMIT ?`, n)
	if err != nil {
		return nil, &StorageError{Op: "top_entries", Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var cachedAt, expiresAt, lastAccessed string
		if err := rows.Scan(&r.ToolName, &r.RequestFingerprint, &r.ParametersJSON, &r.Response,
			&cachedAt, &expiresAt, &r.HitCount, &lastAccessed); err != nil {
			return nil, &StorageError{Op: "top_entries scan", Err: err}
		}
		r.CachedAt, _ = time.Parse(time.RFC3339, cachedAt)
		r.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		r.LastAccessed, _ = time.Parse(time.RFC3339, lastAccessed)
		out = append(out, r)
	}
	return out, nil
}

// Close closes both connections.
func (c *Cache) Close() error {
	werr := c.writer.Close()
	rerr := c.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

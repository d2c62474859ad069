// Package rlmcache implements rlm.Cache over a SQLite-backed store, so
// sub-call results survive past a single process and can be shared across
// root calls, per the Cache Open Question in SPEC_FULL.md §11.
package rlmcache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is a SQLite-backed implementation of rlm.Cache. Reads and writes
// are keyed by fingerprint, matching the in-memory MapCache's last-writer-
// wins semantics; a TTL and/or max-row cap bound storage growth, since
// entries here outlive a single root call and would otherwise grow
// unbounded.
type Cache struct {
	db      *sql.DB
	ttl     time.Duration
	maxRows int
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL expires entries older than d. Zero (the default) disables expiry.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithMaxRows evicts the oldest entries once the table exceeds n rows.
// Zero (the default) disables row-count eviction.
func WithMaxRows(n int) Option {
	return func(c *Cache) { c.maxRows = n }
}

// Open creates or attaches to a SQLite database at path (":memory:" is
// valid for tests) and ensures the cache table exists.
func Open(path string, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sub_call_cache (
			fingerprint TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			written_at  INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	c := &Cache{db: db}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get implements rlm.Cache.
func (c *Cache) Get(fingerprint string) (string, bool) {
	if c.ttl > 0 {
		cutoff := time.Now().Add(-c.ttl).UnixNano()
		row := c.db.QueryRow(
			`SELECT value FROM sub_call_cache WHERE fingerprint = ? AND written_at >= ?`,
			fingerprint, cutoff,
		)
		var value string
		if err := row.Scan(&value); err != nil {
			return "", false
		}
		return value, true
	}

	row := c.db.QueryRow(`SELECT value FROM sub_call_cache WHERE fingerprint = ?`, fingerprint)
	var value string
	if err := row.Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

// Set implements rlm.Cache. Last write wins, matching MapCache.
func (c *Cache) Set(fingerprint string, value string) {
	_, _ = c.db.Exec(
		`INSERT INTO sub_call_cache (fingerprint, value, written_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET value = excluded.value, written_at = excluded.written_at`,
		fingerprint, value, time.Now().UnixNano(),
	)

	if c.maxRows > 0 {
		c.evictOverflow()
	}
}

func (c *Cache) evictOverflow() {
	_, _ = c.db.Exec(`
		DELETE FROM sub_call_cache
		WHERE fingerprint IN (
			SELECT fingerprint FROM sub_call_cache
			ORDER BY written_at ASC
			LIMIT MAX(0, (SELECT COUNT(*) FROM sub_call_cache) - ?)
		)
	`, c.maxRows)
}

package cacheregistry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// SQLite stores registry entries in a table of an already opened database.
// It is meant to share the database of cache.SQLiteStorage, so that cached
// responses and their metadata are persisted side by side.
type SQLite struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLite creates the registry table if needed.
func NewSQLite(db *sql.DB) (SQLite, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS registry (
		cache_name TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		cached_at INTEGER NOT NULL,
		size INTEGER,
		PRIMARY KEY (cache_name, cache_key)
	)`)
	if err != nil {
		return SQLite{}, fmt.Errorf("create registry table: %w", err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS registry_cached_at_idx ON registry (cache_name, cached_at)")
	if err != nil {
		return SQLite{}, fmt.Errorf("create registry index: %w", err)
	}
	return SQLite{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLite) Put(ctx context.Context, cacheName string, entry Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	var size sql.NullInt64
	if entry.SizeKnown() {
		size = sql.NullInt64{Int64: entry.Size, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO registry
		(cache_name, cache_key, cached_at, size) VALUES (?, ?, ?, ?)`,
		cacheName, entry.CacheKey, entry.CachedAt.UnixNano(), size)
	return err
}

func (s SQLite) Entries(ctx context.Context, cacheName string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT cache_key, cached_at, size FROM registry WHERE cache_name = ? ORDER BY cached_at ASC",
		cacheName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry    Entry
			cachedAt int64
			size     sql.NullInt64
		)
		if err := rows.Scan(&entry.CacheKey, &cachedAt, &size); err != nil {
			return entries, err
		}
		entry.CachedAt = time.Unix(0, cachedAt)
		entry.Size = UnknownSize
		if size.Valid {
			entry.Size = size.Int64
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLite) Delete(ctx context.Context, cacheName, cacheKey string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM registry WHERE cache_name = ? AND cache_key = ?", cacheName, cacheKey)
	return err
}

func (s SQLite) DeleteCache(ctx context.Context, cacheName string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM registry WHERE cache_name = ?", cacheName)
	return err
}

func (s SQLite) DeleteAll(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM registry")
	return err
}

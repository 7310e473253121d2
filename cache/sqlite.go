package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// OpenSQLite opens (or creates) the sqlite database with the given file name.
// If the file name is empty, a new in-memory db is opened.
func OpenSQLite(filename string) (*sql.DB, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	// a single connection serializes the response and registry writers sharing the db
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type sqliteProvider struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore returns a Store persisting responses in the given database.
func NewSQLiteStore(db *sql.DB, opts ...Option) (*Store, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS caches (
		name TEXT PRIMARY KEY
	)`)
	if err != nil {
		return nil, fmt.Errorf("create caches table: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS responses (
		cache_name TEXT NOT NULL,
		key TEXT NOT NULL,
		bytes BLOB,
		PRIMARY KEY (cache_name, key)
	)`)
	if err != nil {
		return nil, fmt.Errorf("create responses table: %w", err)
	}
	return newStore(&sqliteProvider{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, opts), nil
}

func (s *sqliteProvider) create(ctx context.Context, name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", name)
	return err
}

func (s *sqliteProvider) exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM caches WHERE name = ?", name).Scan(&n)
	return n > 0, err
}

func (s *sqliteProvider) names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteProvider) drop(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM responses WHERE cache_name = ?", name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *sqliteProvider) get(ctx context.Context, name, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM responses WHERE cache_name = ? AND key = ?", name, key).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s *sqliteProvider) put(ctx context.Context, name, key string, b []byte, quota int64) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if quota > 0 {
		var used int64
		err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(bytes)), 0) FROM responses
			WHERE NOT (cache_name = ? AND key = ?)`, name, key).Scan(&used)
		if err != nil {
			return err
		}
		if used+int64(len(b)) > quota {
			return ErrQuotaExceeded
		}
	}
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO responses (cache_name, key, bytes) VALUES (?, ?, ?)", name, key, b)
	return err
}

func (s *sqliteProvider) purge(ctx context.Context, name, key string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, "DELETE FROM responses WHERE cache_name = ? AND key = ?", name, key)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *sqliteProvider) keys(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM responses WHERE cache_name = ? ORDER BY key", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

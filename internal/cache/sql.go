package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// sqlBackend persists envelopes in a single cache_entries table. One
// implementation serves sqlite3 and mysql; the statements that differ per
// dialect are chosen at open time.
type sqlBackend struct {
	db     *sql.DB
	upsert string
}

func openSQLBackend(driver, dsn string) (*sqlBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s cache dsn must be provided", driver)
	}

	var (
		db     *sql.DB
		upsert string
		err    error
	)
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		if strings.Contains(dsn, ":memory:") {
			// Each pooled connection would otherwise get its own empty database.
			db.SetMaxOpenConns(1)
		}
		upsert = `INSERT INTO cache_entries (cache_key, envelope) VALUES (?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET envelope = excluded.envelope`
	case "mysql":
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql cache: %w", err)
		}
		upsert = `INSERT INTO cache_entries (cache_key, envelope) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE envelope = VALUES(envelope)`
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	if err := migrateCache(db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlBackend{db: db, upsert: upsert}, nil
}

// migrateCache ensures the cache table is present.
func migrateCache(db *sql.DB, driver string) error {
	var stmt string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmt = `CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key TEXT PRIMARY KEY,
			envelope BLOB NOT NULL
		)`
	case "mysql":
		stmt = `CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key VARCHAR(191) NOT NULL,
			envelope MEDIUMBLOB NOT NULL,
			PRIMARY KEY (cache_key)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	default:
		return fmt.Errorf("unsupported cache driver for migration: %s", driver)
	}
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("migrate cache (%s): %w", driver, err)
	}
	return nil
}

func (s *sqlBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT envelope FROM cache_entries WHERE cache_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *sqlBackend) set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, key, value); err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

func (s *sqlBackend) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	query := fmt.Sprintf(`DELETE FROM cache_entries WHERE cache_key IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

func (s *sqlBackend) close() error { return s.db.Close() }

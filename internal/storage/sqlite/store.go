// Package sqlite implements identity persistence over a single SQLite file.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/hoangsonww/passwordless-auth/internal/platform/storage/sqlitemigrate"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
	"github.com/hoangsonww/passwordless-auth/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements identity persistence over SQLite.
//
// A single SQLite file backs identity state so every login flow shares the
// same transaction and visibility boundaries.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the raw database handle for operational callers.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens an identity SQLite store and applies bundled migrations.
//
// This keeps startup and schema evolution in one place, instead of requiring
// callers to coordinate migrations independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}

	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// runMigrations applies embedded DDL snapshots for known schema versions.
func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// nullableMillis converts an optional timestamp into its storage form.
func nullableMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

// millisPtr restores an optional timestamp from its storage form.
func millisPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	restored := fromMillis(value.Int64)
	return &restored
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.MagicLinkStore = (*Store)(nil)
var _ storage.RefreshTokenStore = (*Store)(nil)
var _ storage.PasskeyStore = (*Store)(nil)
var _ storage.EmailJobStore = (*Store)(nil)

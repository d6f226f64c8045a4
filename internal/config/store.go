package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// StoreOptions selects the database behind a Store.
type StoreOptions struct {
	Driver  string // sqlite (default), postgres or mysql
	DSN     string // required for postgres and mysql
	DataDir string // sqlite only; empty means in-memory

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store persists admin accounts, registry API keys, sessions, the changelog
// and audit dead letters.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// NewStore creates a SQLite-backed store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(context.Background(), StoreOptions{Driver: DriverSQLite, DataDir: dataDir})
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, opts StoreOptions) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch opts.Driver {
	case "", DriverSQLite:
		db, err = openSQLite(ctx, opts.DataDir)
	case DriverPostgres:
		db, err = openNetworked(ctx, "pgx", opts)
	case DriverMySQL:
		db, err = openNetworked(ctx, "mysql", opts)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dialect: dialectFor(opts.Driver)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

func openSQLite(ctx context.Context, dataDir string) (*sqlx.DB, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "krapi.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

func openNetworked(ctx context.Context, driverName string, opts StoreOptions) (*sqlx.DB, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("%s store requires a dsn", opts.Driver)
	}
	db, err := sqlx.ConnectContext(ctx, driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", opts.Driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the store's driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

// exec runs a positional query after rebinding placeholders for the driver.
func (s *Store) exec(ctx context.Context, q string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(q), args...)
}

func (s *Store) get(ctx context.Context, dest interface{}, q string, args ...interface{}) error {
	return s.db.GetContext(ctx, dest, s.db.Rebind(q), args...)
}

func (s *Store) sel(ctx context.Context, dest interface{}, q string, args ...interface{}) error {
	return s.db.SelectContext(ctx, dest, s.db.Rebind(q), args...)
}

// wrap maps driver errors onto the store sentinels, keeping the original
// error in the chain.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashSecret returns the hex-encoded SHA-256 hash of a raw key or token.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

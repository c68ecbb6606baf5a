// Package store persists API key records, audit events, and operational
// settings in a relational database. SQLite is the default embedded backend;
// PostgreSQL, MySQL, and SQL Server are supported for shared deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Options configure the backing database and its connection pool.
type Options struct {
	Driver  string
	DSN     string // ignored for sqlite when DataDir is set
	DataDir string // sqlite only; empty means in-memory

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// QueryTimeout bounds every statement the store runs. Exhausted pools
	// and slow backends surface as errors instead of hangs.
	QueryTimeout time.Duration
}

// DefaultOptions returns production defaults with the embedded backend.
func DefaultOptions() Options {
	return Options{
		Driver:          DriverSQLite,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
		QueryTimeout:    5 * time.Second,
	}
}

// Store is the single authoritative home of key records and the audit trail.
// It is constructed once at startup, shared by every component, and closed
// after the server drains.
type Store struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
}

// Open connects to the configured database, applies pool bounds, and runs
// migrations.
func Open(opts Options) (*Store, error) {
	d, ok := dialects[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q (supported: %v)", opts.Driver, Drivers())
	}

	dsn := opts.DSN
	switch opts.Driver {
	case DriverSQLite:
		var err error
		if dsn, err = sqliteDSN(opts.DataDir, dsn); err != nil {
			return nil, err
		}
	case DriverMySQL:
		dsn = mysqlDSN(dsn)
	}

	db, err := sqlx.Connect(d.sqlxDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		if opts.ConnMaxIdleTime > 0 {
			db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
		}
	}

	s := &Store{db: db, driver: opts.Driver, timeout: opts.QueryTimeout}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", opts.Driver, err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Stats exposes connection pool statistics for diagnostics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// opCtx applies the store-wide query timeout to an operation context.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// now returns the store's canonical timestamp: UTC at second precision.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// GetSetting returns an operational setting value.
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var value string
	q := s.db.Rebind("SELECT value FROM settings WHERE name = ?")
	if err := s.db.GetContext(ctx, &value, q, name); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores an operational setting. Portable update-then-insert
// instead of dialect-specific upsert syntax; settings have a single writer.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	upd := s.db.Rebind("UPDATE settings SET value = ? WHERE name = ?")
	result, err := s.db.ExecContext(ctx, upd, value, name)
	if err != nil {
		return fmt.Errorf("update setting: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update setting rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	ins := s.db.Rebind("INSERT INTO settings (name, value) VALUES (?, ?)")
	if _, err := s.db.ExecContext(ctx, ins, name, value); err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}
	return nil
}

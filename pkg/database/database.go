// Package database wraps sqlx with context-aware transactions and migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Ramsey-B/juniper/pkg/metrics"
)

// DB is the query surface repositories depend on. It is satisfied by
// *DatabaseInstance and narrow enough to fake in tests.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	PingContext(ctx context.Context) error
	Unsafe() *sqlx.DB
	Close() error
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Driver          string
	Host            string
	Port            string
	UserName        string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DatabaseInstance is the production DB implementation over sqlx.
type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
}

// NewDatabaseInstance wraps an existing sqlx handle.
func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
	}
}

// Connect opens and pings a PostgreSQL connection with the configured pool limits.
func Connect(ctx context.Context, cfg Config, logger ectologger.Logger) (DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.UserName, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Name, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.WithFields(map[string]any{
		"host":     cfg.Host,
		"database": cfg.Name,
	}).Info("Connected to database")

	return NewDatabaseInstance(db, logger), nil
}

// observeQuery records one query duration against the database histogram.
func observeQuery(operation string, start time.Time) {
	metrics.DatabaseQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ExecContext runs a statement and records its duration.
func (db *DatabaseInstance) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observeQuery("exec", time.Now())
	return db.DB.ExecContext(ctx, query, args...)
}

// GetContext scans a single row and records its duration.
func (db *DatabaseInstance) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	defer observeQuery("get", time.Now())
	return db.DB.GetContext(ctx, dest, query, args...)
}

// SelectContext scans a result set and records its duration.
func (db *DatabaseInstance) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	defer observeQuery("select", time.Now())
	return db.DB.SelectContext(ctx, dest, query, args...)
}

// NamedExecContext runs a named statement and records its duration.
func (db *DatabaseInstance) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	defer observeQuery("named_exec", time.Now())
	return db.DB.NamedExecContext(ctx, query, arg)
}

// QueryxContext runs a query and records its duration.
func (db *DatabaseInstance) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	defer observeQuery("queryx", time.Now())
	return db.DB.QueryxContext(ctx, query, args...)
}

// GetTx returns the transaction bound to the context, or begins a new one and
// binds it. Nested callers share the outer transaction; only the opener's
// Commit/Rollback take effect.
func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

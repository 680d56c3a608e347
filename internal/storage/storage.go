package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/ordertrack/internal/config"
	"github.com/joao-fontenele/ordertrack/internal/telemetry"
)

// Querier is the statement surface shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type DB struct {
	*sql.DB
}

// Open connects to Postgres through the traced driver. The schema is pinned
// in the DSN so every pooled connection resolves tables the same way.
func Open(ctx context.Context, cfg config.Postgres) (*DB, error) {
	dsn, err := WithSearchPath(cfg.URL, cfg.Schema)
	if err != nil {
		return nil, err
	}

	sqlDB, err := telemetry.OpenDB("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}

func New(db *sql.DB) *DB {
	return &DB{DB: db}
}

// WithSearchPath adds search_path to a URL or key=value DSN. lib/pq sends
// unknown parameters to the server as run-time settings.
func WithSearchPath(dsn, schema string) (string, error) {
	if schema == "" {
		return dsn, nil
	}

	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn + " search_path=" + schema, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// InTx runs fn inside a transaction. It commits when fn returns nil and rolls
// back on error or panic.
func (db *DB) InTx(ctx context.Context, opts *sql.TxOptions, fn func(q Querier) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return Wrap("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Wrap("commit transaction", err)
	}
	return nil
}

// Package db owns the relational schema and every SQL statement the server runs.
// The same queries serve an embedded SQLCipher file and a hosted Postgres
// database; see Dialect.Rebind.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	// MaxOpenConns caps the pool. SQLite is single-writer, so high
	// connection counts are counterproductive there.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle pooled connections.
	MaxIdleConns = 2

	pingTimeout = 10 * time.Second
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("db: not found")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs the application's statements against a pool or a transaction.
type Queries struct {
	q       querier
	dialect Dialect
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.dialect.Rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.dialect.Rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.dialect.Rebind(query), args...)
}

// Dialect returns the SQL flavour these queries are bound to.
func (q *Queries) Dialect() Dialect {
	return q.dialect
}

// Store wraps the connection pool.
type Store struct {
	*Queries
	db *sql.DB
}

// Options selects and configures the backend.
type Options struct {
	Driver string // "sqlite" or "postgres"
	DSN    string // file path for sqlite, connection URL for postgres
	Key    string // optional 64 hex char SQLCipher key, sqlite only
}

// NewStoreFromSQL wraps an existing sql.DB.
func NewStoreFromSQL(sqlDB *sql.DB, dialect Dialect) *Store {
	return &Store{
		Queries: &Queries{q: sqlDB, dialect: dialect},
		db:      sqlDB,
	}
}

// Open connects to the configured backend, verifies the connection and
// applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var (
		driverName string
		dsn        string
		dialect    Dialect
	)
	switch strings.ToLower(opts.Driver) {
	case "", string(DialectSQLite):
		if dir := filepath.Dir(opts.DSN); dir != "." && dir != "" && !strings.HasPrefix(opts.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		driverName = SQLiteDriverName
		dsn = appendSQLiteParams(opts.DSN, sqliteParams(opts.Key))
		dialect = DialectSQLite
	case string(DialectPostgres):
		driverName = "postgres"
		dsn = opts.DSN
		dialect = DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	store := NewStoreFromSQL(sqlDB, dialect)
	if err := store.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// Migrate applies Schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(Schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Queries{q: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DB returns the underlying sql.DB for direct access when needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func sqliteParams(key string) string {
	// WAL + NORMAL provides good throughput while preserving safety.
	params := "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	if key != "" {
		params = "_pragma_key=x'" + key + "'&_pragma_cipher_page_size=4096&" + params
	}
	return params
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func splitStatements(schema string) []string {
	var out []string
	for _, part := range strings.Split(schema, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

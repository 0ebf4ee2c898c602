// Package testdb builds throwaway SQLite stores with the full schema for tests.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/kuitang/shastra/internal/db"
)

// NewStoreInMemory creates an isolated in-memory store. The pool is pinned to
// one connection because every new SQLite connection to ":memory:" would see
// an empty database.
func NewStoreInMemory() (*db.Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=private&_foreign_keys=on", uuid.NewString())
	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	store := db.NewStoreFromSQL(sqlDB, db.DialectSQLite)
	if err := store.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// New returns an in-memory store closed at test cleanup.
func New(t testing.TB) *db.Store {
	t.Helper()
	store, err := NewStoreInMemory()
	if err != nil {
		t.Fatalf("testdb: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// SeedUser inserts a user with an empty profile and returns its id.
func SeedUser(t testing.TB, store *db.Store, email string) string {
	t.Helper()
	id := uuid.NewString()
	if err := store.CreateUser(context.Background(), db.User{ID: id, Email: email, CreatedAt: 1_700_000_000}, ""); err != nil {
		t.Fatalf("testdb: seed user %s: %v", email, err)
	}
	return id
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

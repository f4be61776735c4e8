// Package storetest opens migrated throwaway databases for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/config"
	"github.com/aisaas-platform/aisaas/internal/database"
	"github.com/aisaas-platform/aisaas/internal/store"
)

// Open returns a migrated sqlite database in a temp dir, closed on cleanup.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Type: database.SQLite,
		Path: filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// New returns a Store over a fresh database.
func New(t testing.TB) *store.Store {
	t.Helper()
	return store.New(Open(t), database.SQLite)
}

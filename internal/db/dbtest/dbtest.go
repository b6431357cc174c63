// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storefront/services/ecommerce/internal/db"
)

// New returns a migrated database backed by a private in-memory SQLite file.
// The pool is pinned to one connection because every SQLite connection to
// ":memory:" sees its own empty database.
func New(t *testing.T) *db.DB {
	t.Helper()
	return open(t, ":memory:", 1)
}

// NewShared returns a migrated database in a temporary SQLite file that up to
// conns connections use at once. Transactions begin IMMEDIATE and queue on
// the busy timeout, so concurrent writers run one after another.
func NewShared(t *testing.T, conns int) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	return open(t, path+"?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL", conns)
}

func open(t *testing.T, dsn string, conns int) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/looplj/agentpay/internal/server/db"
)

// New returns a migrated in-memory database private to t. A single connection keeps
// sqlite writers serialized the way a real database would under row locks.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	gdb, err := db.Open(db.Config{
		Dialect:      "sqlite3",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	require.NoError(t, db.Migrate(context.Background(), gdb))

	t.Cleanup(func() {
		_ = db.Close(gdb)
	})

	return gdb
}

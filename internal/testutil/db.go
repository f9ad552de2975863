package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/infrastructure/sqlite"
)

// NewTestDB opens a migrated registry database in a temporary directory.
// It is closed when the test ends.
func NewTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "_butler.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

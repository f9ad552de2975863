package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/dataid"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "_butler.sqlite3"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestNewDB_CreatesDirectory verifies that NewDB creates the parent directory if missing.
func TestNewDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "_butler.sqlite3")

	db, err := NewDB(dbPath)
	require.NoError(t, err, "NewDB should succeed even with nested non-existent directories")
	defer db.Close()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	require.True(t, info.IsDir())
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	}
}

// TestNewDB_RunsMigrations verifies the row store tables exist after NewDB.
func TestNewDB_RunsMigrations(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"_config", "_lock", "datasets"} {
		var name string
		err := db.conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "%s table should exist after migrations", table)
	}
}

// TestNewDB_BackupOnlyWhenMigrating verifies a reopened, current database is not backed up.
func TestNewDB_BackupOnlyWhenMigrating(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "_butler.sqlite3")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	_, err = os.Stat(dbPath + ".bak")
	require.True(t, os.IsNotExist(err), "current schema should not be backed up")
}

// TestNewDB_BackupBeforeMigration verifies an existing unmigrated file is copied first.
func TestNewDB_BackupBeforeMigration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "_butler.sqlite3")
	raw, err := sql.Open("sqlite3", "file:"+dbPath)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE legacy (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(dbPath + ".bak")
	require.NoError(t, err, "Backup file should exist")
	require.Greater(t, info.Size(), int64(0))
}

// TestNewDB_Pragmas verifies WAL mode and the busy timeout.
func TestNewDB_Pragmas(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(t, 5000, busyTimeout)
}

// TestDB_Close verifies that the connection closes cleanly.
func TestDB_Close(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "_butler.sqlite3"))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.Error(t, db.conn.Ping(), "Ping should fail after Close")
}

// TestNewDB_InvalidPath verifies that NewDB returns an error for unwritable paths.
func TestNewDB_InvalidPath(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs a non-root Unix user")
	}
	_, err := NewDB("/root/butler-test/_butler.sqlite3")
	require.Error(t, err)
}

func TestConfigStore_SaveReplaces(t *testing.T) {
	db := newTestDB(t)
	store := db.ConfigStore()
	ctx := context.Background()

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, doc)

	require.NoError(t, store.Save(ctx, []byte("mapper: glob\n")))
	require.NoError(t, store.Save(ctx, []byte("mapper: registry\n")))

	doc, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "mapper: registry\n", string(doc))
}

func TestConfigStore_RejectsMultipleRows(t *testing.T) {
	db := newTestDB(t)
	_, err := db.conn.Exec(`INSERT INTO _config (document) VALUES ('a'), ('b')`)
	require.NoError(t, err)

	_, err = db.ConfigStore().Load(context.Background())
	require.Error(t, err)
}

func TestReadConfigDocument(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.ConfigStore().Save(ctx, []byte("mapper: standard\n")))

	doc, err := ReadConfigDocument(ctx, db.Path())
	require.NoError(t, err)
	require.Equal(t, "mapper: standard\n", string(doc))
}

func TestReadConfigDocument_NoTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "_butler.sqlite3")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	doc, err := ReadConfigDocument(context.Background(), path)
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestLockRepository_InsertIfAbsent(t *testing.T) {
	repo := newTestDB(t).LockRepository()
	ctx := context.Background()

	ok, err := repo.TryInsert(ctx, "raw:{visit=1}", "owner-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.TryInsert(ctx, "raw:{visit=1}", "owner-b")
	require.NoError(t, err)
	require.False(t, ok, "second insert for the same kind must not succeed")

	owner, held, err := repo.Owner(ctx, "raw:{visit=1}")
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, "owner-a", owner)

	deleted, err := repo.Delete(ctx, "raw:{visit=1}", "owner-b")
	require.NoError(t, err)
	require.False(t, deleted, "only the holder's row is deleted")

	deleted, err = repo.Delete(ctx, "raw:{visit=1}", "owner-a")
	require.NoError(t, err)
	require.True(t, deleted)

	_, held, err = repo.Owner(ctx, "raw:{visit=1}")
	require.NoError(t, err)
	require.False(t, held)
}

// TestLockRepository_ConcurrentInsert verifies exactly one of many racing inserts wins.
func TestLockRepository_ConcurrentInsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	wins := make(chan string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := string(rune('a' + i))
			ok, err := db.LockRepository().TryInsert(ctx, "k", owner)
			if err == nil && ok {
				wins <- owner
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)
}

func TestDatasetRegistry_RecordAndQuery(t *testing.T) {
	reg := newTestDB(t).DatasetRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Record(ctx, "raw", dataid.DataID{"visit": "1", "ccd": "2"}))
	require.NoError(t, reg.Record(ctx, "raw", dataid.DataID{"visit": "1", "ccd": "3"}))
	require.NoError(t, reg.Record(ctx, "raw", dataid.DataID{"visit": "1", "ccd": "3"}))
	require.NoError(t, reg.Record(ctx, "calexp", dataid.DataID{"visit": "2", "ccd": "2"}))

	got, err := reg.Query(ctx, "raw", dataid.DataID{"visit": "1"})
	require.NoError(t, err)
	require.ElementsMatch(t, []dataid.DataID{
		{"visit": "1", "ccd": "2"},
		{"visit": "1", "ccd": "3"},
	}, got)

	got, err = reg.Query(ctx, "raw", dataid.DataID{"ccd": "3"})
	require.NoError(t, err)
	require.Equal(t, []dataid.DataID{{"visit": "1", "ccd": "3"}}, got)

	got, err = reg.Query(ctx, "raw", dataid.DataID{"visit": "9"})
	require.NoError(t, err)
	require.Empty(t, got)

	types, err := reg.Types(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"calexp", "raw"}, types)
}

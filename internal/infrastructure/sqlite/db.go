// Package sqlite implements the repository's shared row store on SQLite: the
// embedded configuration document, advisory lock rows, and the dataset registry.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/butler/internal/log"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// schemaVersion is the newest migration in migrations/.
const schemaVersion = 1

// DB owns a connection to a registry database.
type DB struct {
	conn *sql.DB
	path string
}

// NewDB opens (creating if needed) the registry database at path and brings
// its schema up to date. An existing database with pending migrations is
// copied to path+".bak" first.
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	_, statErr := os.Stat(path)
	existed := statErr == nil

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)"
	log.Debug(log.CatDB, "Opening database", "path", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateUp(conn, path, existed); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info(log.CatDB, "Connected to database", "path", path)
	return &DB{conn: conn, path: path}, nil
}

// migrateUp applies pending migrations. The migrate instance is not closed
// because closing it closes conn.
func migrateUp(conn *sql.DB, path string, existed bool) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		version = 0
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		return fmt.Errorf("database %s has a dirty schema at version %d", path, version)
	}

	if existed && version < schemaVersion {
		if err := backup(path); err != nil {
			return err
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version < schemaVersion {
		log.Info(log.CatDB, "Migrated database", "path", path, "from", version, "to", schemaVersion)
	}
	return nil
}

func backup(path string) error {
	src, err := os.Open(path) //nolint:gosec // G304: registry paths come from repository configuration
	if err != nil {
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(path+".bak", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // G304: see above
	if err != nil {
		return fmt.Errorf("failed to create database backup: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write database backup: %w", err)
	}
	log.Debug(log.CatDB, "Backed up database before migration", "path", path+".bak")
	return nil
}

// Close closes the connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// ConfigStore returns the store for the embedded configuration document.
func (d *DB) ConfigStore() *ConfigStore {
	return &ConfigStore{db: d.conn}
}

// LockRepository returns the repository of advisory lock rows.
func (d *DB) LockRepository() *LockRepository {
	return &LockRepository{db: d.conn}
}

// DatasetRegistry returns the registry of stored dataset identifiers.
func (d *DB) DatasetRegistry() *DatasetRegistry {
	return &DatasetRegistry{db: d.conn}
}

// ReadConfigDocument reads the configuration document embedded in the
// database at path without migrating or writing to it. It returns nil data
// and no error when the database holds no document.
func ReadConfigDocument(ctx context.Context, path string) ([]byte, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var tables int
	err = conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '_config'`,
	).Scan(&tables)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect database: %w", err)
	}
	if tables == 0 {
		return nil, nil
	}
	return (&ConfigStore{db: conn}).Load(ctx)
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ConfigStore persists the repository configuration document in the
// single-row _config table.
type ConfigStore struct {
	db *sql.DB
}

// Save replaces the stored document.
func (s *ConfigStore) Save(ctx context.Context, document []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin config transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM _config`); err != nil {
		return fmt.Errorf("failed to clear config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _config (document) VALUES (?)`, string(document)); err != nil {
		return fmt.Errorf("failed to insert config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config: %w", err)
	}
	return nil
}

// Load returns the stored document, or nil when none is stored.
func (s *ConfigStore) Load(ctx context.Context) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM _config`)
	if err != nil {
		return nil, fmt.Errorf("failed to query config: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var documents []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config rows: %w", err)
	}

	switch len(documents) {
	case 0:
		return nil, nil
	case 1:
		return []byte(documents[0]), nil
	default:
		return nil, errors.New("more than one config document stored")
	}
}

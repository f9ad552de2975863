package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LockRepository stores advisory lock rows. A row's existence means its kind
// is held by owner.
type LockRepository struct {
	db *sql.DB
}

// TryInsert atomically inserts (kind, owner) if no row for kind exists and
// reports whether it did.
func (r *LockRepository) TryInsert(ctx context.Context, kind, owner string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO _lock (kind, owner) VALUES (?, ?)`,
		kind, owner,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert lock row: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Owner returns the current holder of kind. ok is false when the kind is unheld.
func (r *LockRepository) Owner(ctx context.Context, kind string) (owner string, ok bool, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT owner FROM _lock WHERE kind = ?`, kind).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read lock owner: %w", err)
	}
	return owner, true, nil
}

// Delete removes the row for kind if owner holds it and reports whether a
// row was removed.
func (r *LockRepository) Delete(ctx context.Context, kind, owner string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM _lock WHERE kind = ? AND owner = ?`,
		kind, owner,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete lock row: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

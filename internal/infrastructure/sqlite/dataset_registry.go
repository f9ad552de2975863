package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/butler/internal/dataid"
)

// DatasetRegistry records the identifiers of stored datasets so they can be
// found without scanning the filesystem.
type DatasetRegistry struct {
	db *sql.DB
}

// Record registers id under datasetType. Recording the same pair twice is a no-op.
func (r *DatasetRegistry) Record(ctx context.Context, datasetType string, id dataid.DataID) error {
	encoded, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to encode data id: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO datasets (dataset_type, data_id, recorded_at) VALUES (?, ?, ?)`,
		datasetType, string(encoded), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record dataset: %w", err)
	}
	return nil
}

// Query returns the recorded identifiers of datasetType that agree with
// every key of partial, oldest first.
func (r *DatasetRegistry) Query(ctx context.Context, datasetType string, partial dataid.DataID) ([]dataid.DataID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data_id FROM datasets WHERE dataset_type = ? ORDER BY recorded_at, data_id`,
		datasetType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []dataid.DataID
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		var id dataid.DataID
		if err := json.Unmarshal([]byte(encoded), &id); err != nil {
			return nil, fmt.Errorf("failed to decode data id %q: %w", encoded, err)
		}
		if id.Subsumes(partial) {
			out = append(out, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset rows: %w", err)
	}
	return out, nil
}

// Types lists the dataset types with at least one recorded identifier.
func (r *DatasetRegistry) Types(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT dataset_type FROM datasets ORDER BY dataset_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan dataset type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

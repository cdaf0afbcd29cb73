package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates JSONB GIN indexes for PostgreSQL. These speed up
// the containment queries the external-object index and rollup listing use.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	// GIN index for external-object component lookups
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_external_objects_components_gin
		ON external_objects USING gin(components jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create components GIN index: %w", err)
	}

	// GIN index for rollup configuration document queries
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_rollups_config_gin
		ON rollups USING gin(config jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create rollup config GIN index: %w", err)
	}

	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/crossgraph/rollup/pkg/models"
)

// ExternalObjectStore persists the inverted external-object index.
type ExternalObjectStore struct {
	db *sql.DB
}

// NewExternalObjectStore creates an external object store over an open
// connection pool.
func NewExternalObjectStore(db *sql.DB) *ExternalObjectStore {
	return &ExternalObjectStore{db: db}
}

// SaveEntries implements store.ExternalObjectStore. Entries are upserted in
// one transaction; re-indexing the same (tenant, repo, scan, node, external
// id) tuple refreshes the row.
func (s *ExternalObjectStore) SaveEntries(ctx context.Context, entries []*models.ExternalObjectEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO external_objects
		 (id, tenant_id, repository_id, scan_id, node_id, external_id,
		  reference_type, normalized_id, node_name, node_type, file_path,
		  components, metadata, indexed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT ON CONSTRAINT external_objects_identity DO UPDATE SET
		   reference_type = EXCLUDED.reference_type,
		   normalized_id  = EXCLUDED.normalized_id,
		   node_name      = EXCLUDED.node_name,
		   node_type      = EXCLUDED.node_type,
		   file_path      = EXCLUDED.file_path,
		   components     = EXCLUDED.components,
		   metadata       = EXCLUDED.metadata,
		   indexed_at     = EXCLUDED.indexed_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	saved := 0
	for _, entry := range entries {
		components, err := marshalNullable(entry.Components)
		if err != nil {
			return saved, fmt.Errorf("failed to marshal components: %w", err)
		}
		metadata, err := marshalNullable(entry.Metadata)
		if err != nil {
			return saved, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			entry.ID, entry.TenantID, entry.RepositoryID, entry.ScanID, entry.NodeID,
			entry.ExternalID, entry.ReferenceType, entry.NormalizedID,
			entry.NodeName, entry.NodeType, entry.FilePath,
			components, metadata, entry.IndexedAt)
		if err != nil {
			return saved, fmt.Errorf("failed to upsert entry %s: %w", entry.ID, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit entries: %w", err)
	}
	return saved, nil
}

// FindByExternalID implements store.ExternalObjectStore.
func (s *ExternalObjectStore) FindByExternalID(ctx context.Context, tenantID, externalID string, filter models.EntryFilter) ([]*models.ExternalObjectEntry, error) {
	where := []string{"tenant_id = $1", "external_id = $2"}
	args := []any{tenantID, externalID}
	if filter.RepositoryID != "" {
		args = append(args, filter.RepositoryID)
		where = append(where, fmt.Sprintf("repository_id = $%d", len(args)))
	}
	if filter.ScanID != "" {
		args = append(args, filter.ScanID)
		where = append(where, fmt.Sprintf("scan_id = $%d", len(args)))
	}
	if filter.ReferenceType != "" {
		args = append(args, filter.ReferenceType)
		where = append(where, fmt.Sprintf("reference_type = $%d", len(args)))
	}

	query := `SELECT id, tenant_id, repository_id, scan_id, node_id, external_id,
	          reference_type, normalized_id, node_name, node_type, file_path,
	          components, metadata, indexed_at
	          FROM external_objects WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY repository_id, node_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryEntries(ctx, query, args...)
}

// FindByNodeID implements store.ExternalObjectStore.
func (s *ExternalObjectStore) FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]*models.ExternalObjectEntry, error) {
	where := []string{"tenant_id = $1", "node_id = $2"}
	args := []any{tenantID, nodeID}
	if scanID != "" {
		args = append(args, scanID)
		where = append(where, fmt.Sprintf("scan_id = $%d", len(args)))
	}
	query := `SELECT id, tenant_id, repository_id, scan_id, node_id, external_id,
	          reference_type, normalized_id, node_name, node_type, file_path,
	          components, metadata, indexed_at
	          FROM external_objects WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY external_id`
	return s.queryEntries(ctx, query, args...)
}

// DeleteEntries implements store.ExternalObjectStore.
func (s *ExternalObjectStore) DeleteEntries(ctx context.Context, tenantID string, filter models.EntryFilter) (int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.RepositoryID != "" {
		args = append(args, filter.RepositoryID)
		where = append(where, fmt.Sprintf("repository_id = $%d", len(args)))
	}
	if filter.ScanID != "" {
		args = append(args, filter.ScanID)
		where = append(where, fmt.Sprintf("scan_id = $%d", len(args)))
	}
	if filter.ReferenceType != "" {
		args = append(args, filter.ReferenceType)
		where = append(where, fmt.Sprintf("reference_type = $%d", len(args)))
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM external_objects WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return int(affected), nil
}

// CountEntries implements store.ExternalObjectStore.
func (s *ExternalObjectStore) CountEntries(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM external_objects WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// CountByType implements store.ExternalObjectStore.
func (s *ExternalObjectStore) CountByType(ctx context.Context, tenantID string) (map[models.ReferenceType]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reference_type, COUNT(*) FROM external_objects
		 WHERE tenant_id = $1 GROUP BY reference_type`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries by type: %w", err)
	}
	defer rows.Close()

	out := make(map[models.ReferenceType]int)
	for rows.Next() {
		var refType models.ReferenceType
		var count int
		if err := rows.Scan(&refType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		out[refType] = count
	}
	return out, rows.Err()
}

func (s *ExternalObjectStore) queryEntries(ctx context.Context, query string, args ...any) ([]*models.ExternalObjectEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []*models.ExternalObjectEntry
	for rows.Next() {
		var entry models.ExternalObjectEntry
		var components, metadata []byte
		err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.RepositoryID, &entry.ScanID, &entry.NodeID,
			&entry.ExternalID, &entry.ReferenceType, &entry.NormalizedID,
			&entry.NodeName, &entry.NodeType, &entry.FilePath,
			&components, &metadata, &entry.IndexedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		if len(components) > 0 {
			if err := json.Unmarshal(components, &entry.Components); err != nil {
				return nil, fmt.Errorf("failed to unmarshal components: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// marshalNullable maps empty maps to SQL NULL instead of the JSON text "null".
func marshalNullable(v any) (any, error) {
	switch m := v.(type) {
	case map[string]string:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(m) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

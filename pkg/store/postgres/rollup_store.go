// Package postgres implements the store contracts on PostgreSQL. Domain
// documents are stored as JSONB with the columns the queries filter on
// extracted alongside.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
)

// RollupStore persists rollups, executions, and the dead letter queue.
type RollupStore struct {
	db *sql.DB
}

// NewRollupStore creates a rollup store over an open connection pool.
func NewRollupStore(db *sql.DB) *RollupStore {
	return &RollupStore{db: db}
}

// CreateRollup implements store.RollupStore.
func (s *RollupStore) CreateRollup(ctx context.Context, cfg *models.RollupConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal rollup: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rollups (id, tenant_id, name, status, version, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cfg.ID, cfg.TenantID, cfg.Name, cfg.Status, cfg.Version, doc, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.NewValidationError("rollup_id", "already exists")
		}
		return fmt.Errorf("failed to insert rollup: %w", err)
	}
	return nil
}

// GetRollup implements store.RollupStore. A tenant mismatch is reported as
// not-found, never as a permission error.
func (s *RollupStore) GetRollup(ctx context.Context, tenantID, rollupID string) (*models.RollupConfig, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM rollups WHERE id = $1 AND tenant_id = $2`,
		rollupID, tenantID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("rollup", rollupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rollup: %w", err)
	}
	var cfg models.RollupConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rollup: %w", err)
	}
	return &cfg, nil
}

// UpdateRollup implements store.RollupStore with an optimistic version check.
func (s *RollupStore) UpdateRollup(ctx context.Context, cfg *models.RollupConfig, expectedVersion int) error {
	next := *cfg
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal rollup: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE rollups
		 SET name = $1, status = $2, version = $3, config = $4, updated_at = $5
		 WHERE id = $6 AND tenant_id = $7 AND version = $8`,
		next.Name, next.Status, next.Version, doc, next.UpdatedAt,
		cfg.ID, cfg.TenantID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update rollup: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Distinguish a stale version from a missing rollup.
		var actual int
		err := s.db.QueryRowContext(ctx,
			`SELECT version FROM rollups WHERE id = $1 AND tenant_id = $2`,
			cfg.ID, cfg.TenantID).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NewNotFoundError("rollup", cfg.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to query rollup version: %w", err)
		}
		return &errs.ConflictError{
			Entity:          "rollup",
			ID:              cfg.ID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   actual,
		}
	}
	cfg.Version = next.Version
	cfg.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteRollup implements store.RollupStore.
func (s *RollupStore) DeleteRollup(ctx context.Context, tenantID, rollupID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rollups WHERE id = $1 AND tenant_id = $2`, rollupID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rollup: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return errs.NewNotFoundError("rollup", rollupID)
	}
	return nil
}

// ListRollups implements store.RollupStore.
func (s *RollupStore) ListRollups(ctx context.Context, tenantID string, filters models.RollupFilters) (*models.RollupListResult, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.Name != "" {
		args = append(args, "%"+strings.ToLower(filters.Name)+"%")
		where = append(where, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rollups WHERE `+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count rollups: %w", err)
	}

	orderBy := "created_at"
	switch filters.SortBy {
	case "name":
		orderBy = "name"
	case "updated_at":
		orderBy = "updated_at"
	}
	direction := "ASC"
	if filters.SortDesc {
		direction = "DESC"
	}

	query := fmt.Sprintf(`SELECT config FROM rollups WHERE %s ORDER BY %s %s`,
		whereClause, orderBy, direction)
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollups: %w", err)
	}
	defer rows.Close()

	var matched []*models.RollupConfig
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}
		var cfg models.RollupConfig
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rollup: %w", err)
		}
		matched = append(matched, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rollup rows: %w", err)
	}

	return &models.RollupListResult{
		Rollups:    matched,
		TotalCount: total,
		Limit:      filters.Limit,
		Offset:     filters.Offset,
	}, nil
}

// CreateExecution implements store.RollupStore.
func (s *RollupStore) CreateExecution(ctx context.Context, exec *models.RollupExecution) error {
	doc, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rollup_executions (id, rollup_id, tenant_id, status, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		exec.ID, exec.RollupID, exec.TenantID, exec.Status, doc, exec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecution implements store.RollupStore.
func (s *RollupStore) GetExecution(ctx context.Context, tenantID, executionID string) (*models.RollupExecution, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM rollup_executions WHERE id = $1 AND tenant_id = $2`,
		executionID, tenantID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("execution", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	var exec models.RollupExecution
	if err := json.Unmarshal(doc, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

// UpdateExecution implements store.RollupStore.
func (s *RollupStore) UpdateExecution(ctx context.Context, exec *models.RollupExecution) error {
	doc, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rollup_executions SET status = $1, record = $2 WHERE id = $3`,
		exec.Status, doc, exec.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return errs.NewNotFoundError("execution", exec.ID)
	}
	return nil
}

// ListExecutionsByStatus implements store.RollupStore.
func (s *RollupStore) ListExecutionsByStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.RollupExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM rollup_executions
		 WHERE tenant_id = $1 AND status = $2
		 ORDER BY created_at`,
		tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.RollupExecution
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		var exec models.RollupExecution
		if err := json.Unmarshal(doc, &exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}

// CountActiveExecutions implements store.RollupStore.
func (s *RollupStore) CountActiveExecutions(ctx context.Context, rollupID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rollup_executions
		 WHERE rollup_id = $1 AND status IN ('pending', 'running')`,
		rollupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active executions: %w", err)
	}
	return count, nil
}

// SaveDeadLetter implements store.RollupStore.
func (s *RollupStore) SaveDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, execution_id, rollup_id, tenant_id, status, record, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, record = EXCLUDED.record`,
		entry.ID, entry.ExecutionID, entry.RollupID, entry.TenantID, entry.Status, doc, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save dead letter entry: %w", err)
	}
	return nil
}

// GetDeadLetter implements store.RollupStore.
func (s *RollupStore) GetDeadLetter(ctx context.Context, tenantID, id string) (*models.DeadLetterEntry, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM dead_letters WHERE id = $1 AND tenant_id = $2`,
		id, tenantID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("dead letter entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter entry: %w", err)
	}
	var entry models.DeadLetterEntry
	if err := json.Unmarshal(doc, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter entry: %w", err)
	}
	return &entry, nil
}

// UpdateDeadLetter implements store.RollupStore.
func (s *RollupStore) UpdateDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letters SET status = $1, record = $2 WHERE id = $3`,
		entry.Status, doc, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update dead letter entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return errs.NewNotFoundError("dead letter entry", entry.ID)
	}
	return nil
}

// ListDeadLetters implements store.RollupStore.
func (s *RollupStore) ListDeadLetters(ctx context.Context, tenantID string, limit, offset int) ([]*models.DeadLetterEntry, error) {
	query := `SELECT record FROM dead_letters WHERE tenant_id = $1 ORDER BY created_at DESC`
	args := []any{tenantID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetterEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		var entry models.DeadLetterEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// CountDeadLetters implements store.RollupStore.
func (s *RollupStore) CountDeadLetters(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letter entries: %w", err)
	}
	return count, nil
}

// DeleteOldestDeadLetters implements store.RollupStore.
func (s *RollupStore) DeleteOldestDeadLetters(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE id IN (
		   SELECT id FROM dead_letters ORDER BY created_at LIMIT $1
		 )`, n)
	if err != nil {
		return 0, fmt.Errorf("failed to evict dead letter entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return int(affected), nil
}

// DeleteDeadLettersBefore implements store.RollupStore.
func (s *RollupStore) DeleteDeadLettersBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep dead letter entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return int(affected), nil
}

// isUniqueViolation matches the PostgreSQL unique_violation SQLSTATE (23505)
// without binding to a driver error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

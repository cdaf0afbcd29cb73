package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
)

// ScanGraphStore reads scan graphs and persists merged graphs.
type ScanGraphStore struct {
	db *sql.DB
}

// NewScanGraphStore creates a scan graph store over an open connection pool.
func NewScanGraphStore(db *sql.DB) *ScanGraphStore {
	return &ScanGraphStore{db: db}
}

// GetLatestScan implements store.ScanGraphStore. A repository without scans
// resolves to "" with no error.
func (s *ScanGraphStore) GetLatestScan(ctx context.Context, tenantID, repositoryID string) (string, error) {
	var scanID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM scans
		 WHERE tenant_id = $1 AND repository_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, repositoryID).Scan(&scanID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve latest scan: %w", err)
	}
	return scanID, nil
}

// GetGraph implements store.ScanGraphStore.
func (s *ScanGraphStore) GetGraph(ctx context.Context, tenantID, scanID string) (*models.Graph, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT graph FROM scans WHERE tenant_id = $1 AND id = $2`,
		tenantID, scanID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("scan", scanID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan graph: %w", err)
	}
	var graph models.Graph
	if err := json.Unmarshal(doc, &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scan graph: %w", err)
	}
	return &graph, nil
}

// PutScan stores a repository scan. Used by ingestion tooling and tests;
// the engine itself only reads scans.
func (s *ScanGraphStore) PutScan(ctx context.Context, tenantID, repositoryID, scanID string, graph *models.Graph) error {
	doc, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal scan graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (tenant_id, id, repository_id, graph, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, id) DO UPDATE SET graph = EXCLUDED.graph`,
		tenantID, scanID, repositoryID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store scan: %w", err)
	}
	return nil
}

// PersistMergedGraph implements store.ScanGraphStore. Re-persisting for the
// same execution overwrites, so retried store phases stay idempotent.
func (s *ScanGraphStore) PersistMergedGraph(ctx context.Context, tenantID, executionID string, graph *models.MergedGraph) error {
	doc, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal merged graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO merged_graphs (tenant_id, execution_id, graph, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, execution_id) DO UPDATE SET graph = EXCLUDED.graph`,
		tenantID, executionID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to persist merged graph: %w", err)
	}
	return nil
}

// GetMergedGraph implements store.ScanGraphStore.
func (s *ScanGraphStore) GetMergedGraph(ctx context.Context, tenantID, executionID string) (*models.MergedGraph, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT graph FROM merged_graphs WHERE tenant_id = $1 AND execution_id = $2`,
		tenantID, executionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFoundError("merged graph", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query merged graph: %w", err)
	}
	var graph models.MergedGraph
	if err := json.Unmarshal(doc, &graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal merged graph: %w", err)
	}
	return &graph, nil
}

// Package store defines the persistence collaborator contracts the rollup
// engine consumes. Implementations live in the memory and postgres
// subpackages; the engine only sees these interfaces.
package store

import (
	"context"
	"time"

	"github.com/crossgraph/rollup/pkg/models"
)

// ScanGraphStore provides read access to repository scan graphs and
// persistence for merged graphs.
type ScanGraphStore interface {
	// GetLatestScan resolves the newest scan for a repository.
	// Returns "" (no error) when the repository has no scan.
	GetLatestScan(ctx context.Context, tenantID, repositoryID string) (string, error)

	// GetGraph fetches a scan graph by scan ID, tenant-scoped.
	GetGraph(ctx context.Context, tenantID, scanID string) (*models.Graph, error)

	// PersistMergedGraph stores the merged graph of an execution.
	PersistMergedGraph(ctx context.Context, tenantID, executionID string, graph *models.MergedGraph) error

	// GetMergedGraph fetches a previously persisted merged graph.
	GetMergedGraph(ctx context.Context, tenantID, executionID string) (*models.MergedGraph, error)
}

// ExternalObjectStore persists the inverted external-object index.
type ExternalObjectStore interface {
	// SaveEntries upserts a batch of entries and returns the saved count.
	// The (tenant, repository, scan, node, external id) tuple is unique.
	SaveEntries(ctx context.Context, entries []*models.ExternalObjectEntry) (int, error)

	// FindByExternalID returns entries matching an external ID, filtered.
	FindByExternalID(ctx context.Context, tenantID, externalID string, filter models.EntryFilter) ([]*models.ExternalObjectEntry, error)

	// FindByNodeID returns the references a node declares. scanID may be
	// empty to search across scans.
	FindByNodeID(ctx context.Context, tenantID, nodeID, scanID string) ([]*models.ExternalObjectEntry, error)

	// DeleteEntries removes entries matching the filter, returning the count.
	DeleteEntries(ctx context.Context, tenantID string, filter models.EntryFilter) (int, error)

	// CountEntries returns the total entry count for a tenant.
	CountEntries(ctx context.Context, tenantID string) (int, error)

	// CountByType returns per-reference-type entry counts for a tenant.
	CountByType(ctx context.Context, tenantID string) (map[models.ReferenceType]int, error)
}

// RollupStore persists rollup configurations, executions, and the DLQ.
type RollupStore interface {
	// CreateRollup persists a new rollup configuration.
	CreateRollup(ctx context.Context, cfg *models.RollupConfig) error

	// GetRollup fetches a rollup by ID, tenant-scoped. A mismatched tenant
	// is indistinguishable from absence (errs.ErrNotFound).
	GetRollup(ctx context.Context, tenantID, rollupID string) (*models.RollupConfig, error)

	// UpdateRollup persists cfg if the stored version equals expectedVersion,
	// then increments the version. Mismatch returns errs.ErrConflict.
	UpdateRollup(ctx context.Context, cfg *models.RollupConfig, expectedVersion int) error

	// DeleteRollup removes a rollup, tenant-scoped.
	DeleteRollup(ctx context.Context, tenantID, rollupID string) error

	// ListRollups returns a filtered, sorted, paginated rollup page.
	ListRollups(ctx context.Context, tenantID string, filters models.RollupFilters) (*models.RollupListResult, error)

	// CreateExecution persists a new execution record.
	CreateExecution(ctx context.Context, exec *models.RollupExecution) error

	// GetExecution fetches an execution by ID, tenant-scoped.
	GetExecution(ctx context.Context, tenantID, executionID string) (*models.RollupExecution, error)

	// UpdateExecution persists the full execution record, including
	// checkpoint and partial-result updates.
	UpdateExecution(ctx context.Context, exec *models.RollupExecution) error

	// ListExecutionsByStatus returns a tenant's executions in a status.
	ListExecutionsByStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.RollupExecution, error)

	// CountActiveExecutions counts pending+running executions of a rollup.
	CountActiveExecutions(ctx context.Context, rollupID string) (int, error)

	// SaveDeadLetter persists a DLQ entry.
	SaveDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error

	// GetDeadLetter fetches a DLQ entry, tenant-scoped.
	GetDeadLetter(ctx context.Context, tenantID, id string) (*models.DeadLetterEntry, error)

	// UpdateDeadLetter persists a DLQ entry's status fields.
	UpdateDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error

	// ListDeadLetters returns a tenant's DLQ entries, newest first.
	ListDeadLetters(ctx context.Context, tenantID string, limit, offset int) ([]*models.DeadLetterEntry, error)

	// CountDeadLetters returns the DLQ size across tenants (bound check).
	CountDeadLetters(ctx context.Context) (int, error)

	// DeleteOldestDeadLetters evicts the n oldest entries.
	DeleteOldestDeadLetters(ctx context.Context, n int) (int, error)

	// DeleteDeadLettersBefore sweeps entries created before cutoff.
	DeleteDeadLettersBefore(ctx context.Context, cutoff time.Time) (int, error)
}

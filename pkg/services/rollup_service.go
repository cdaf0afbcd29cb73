// Package services implements the tenant-scoped rollup lifecycle: CRUD with
// optimistic concurrency, validation, and execution dispatch. Every read is
// fail-closed: a tenant mismatch is indistinguishable from absence.
package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	rollupcache "github.com/crossgraph/rollup/pkg/cache"
	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/events"
	"github.com/crossgraph/rollup/pkg/match"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/crossgraph/rollup/pkg/orchestrator"
	"github.com/crossgraph/rollup/pkg/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// RollupService owns rollup configurations and execution dispatch.
type RollupService struct {
	rollups   store.RollupStore
	scans     store.ScanGraphStore
	orc       *orchestrator.Orchestrator
	bus       *events.Bus
	cache     *rollupcache.TieredCache
	limits    *config.LimitsConfig
	keyPrefix string
}

// NewRollupService wires a rollup service. cache may be nil; bus may be nil,
// in which case events are discarded silently.
func NewRollupService(rollups store.RollupStore, scans store.ScanGraphStore, orc *orchestrator.Orchestrator, bus *events.Bus, cache *rollupcache.TieredCache, limits *config.LimitsConfig, keyPrefix string) *RollupService {
	if limits == nil {
		limits = config.DefaultLimitsConfig()
	}
	if bus == nil {
		bus = events.NewBus(nil, config.DefaultEventsConfig())
	}
	return &RollupService{
		rollups:   rollups,
		scans:     scans,
		orc:       orc,
		bus:       bus,
		cache:     cache,
		limits:    limits,
		keyPrefix: keyPrefix,
	}
}

// Create validates and persists a new rollup configuration.
func (s *RollupService) Create(ctx context.Context, tenantID string, cfg *models.RollupConfig) (*models.RollupConfig, error) {
	if tenantID == "" {
		return nil, errs.NewValidationError("tenant_id", "required")
	}
	cfg.TenantID = tenantID
	if err := s.Validate(cfg); err != nil {
		return nil, err
	}

	if cfg.ID == "" {
		cfg.ID = models.NewRollupID()
	}
	if cfg.Status == "" {
		cfg.Status = models.RollupStatusDraft
	}
	now := time.Now().UTC()
	cfg.Version = 1
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := s.rollups.CreateRollup(ctx, cfg); err != nil {
		return nil, err
	}
	s.bus.Emit(ctx, events.New(events.RollupCreated, tenantID, cfg.ID, "",
		events.RollupPayload{Name: cfg.Name, Version: cfg.Version, Status: string(cfg.Status)}))
	slog.Info("Rollup created", "tenant_id", tenantID, "rollup_id", cfg.ID)
	return cfg, nil
}

// Get fetches a rollup, tenant-scoped.
func (s *RollupService) Get(ctx context.Context, tenantID, rollupID string) (*models.RollupConfig, error) {
	return s.rollups.GetRollup(ctx, tenantID, rollupID)
}

// Update validates and persists changes with an optimistic version check.
// The rollup must be in a modifiable status.
func (s *RollupService) Update(ctx context.Context, tenantID string, cfg *models.RollupConfig, expectedVersion int) (*models.RollupConfig, error) {
	current, err := s.rollups.GetRollup(ctx, tenantID, cfg.ID)
	if err != nil {
		return nil, err
	}
	if !current.Status.Modifiable() {
		return nil, errs.NewValidationError("status",
			"rollup in status '"+string(current.Status)+"' cannot be modified")
	}
	cfg.TenantID = tenantID
	if err := s.Validate(cfg); err != nil {
		return nil, err
	}

	if err := s.rollups.UpdateRollup(ctx, cfg, expectedVersion); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.InvalidateByTags(ctx, []string{rollupcache.RollupTag(cfg.ID)})
	}
	s.bus.Emit(ctx, events.New(events.RollupUpdated, tenantID, cfg.ID, "",
		events.RollupPayload{Name: cfg.Name, Version: cfg.Version, Status: string(cfg.Status)}))
	return cfg, nil
}

// Delete removes a rollup. Only draft and archived rollups may be deleted.
func (s *RollupService) Delete(ctx context.Context, tenantID, rollupID string) error {
	current, err := s.rollups.GetRollup(ctx, tenantID, rollupID)
	if err != nil {
		return err
	}
	if !current.Status.Deletable() {
		return errs.NewValidationError("status",
			"rollup in status '"+string(current.Status)+"' cannot be deleted")
	}
	if err := s.rollups.DeleteRollup(ctx, tenantID, rollupID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateByTags(ctx, []string{rollupcache.RollupTag(rollupID)})
	}
	s.bus.Emit(ctx, events.New(events.RollupDeleted, tenantID, rollupID, "",
		events.RollupPayload{Name: current.Name, Version: current.Version}))
	return nil
}

// List returns a filtered, sorted, paginated page of the tenant's rollups.
func (s *RollupService) List(ctx context.Context, tenantID string, filters models.RollupFilters) (*models.RollupListResult, error) {
	if filters.Limit <= 0 {
		filters.Limit = defaultListLimit
	}
	if filters.Limit > maxListLimit {
		filters.Limit = maxListLimit
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return s.rollups.ListRollups(ctx, tenantID, filters)
}

// Validate checks a rollup configuration against the policy limits. Pure:
// no side effects, stable classification.
func (s *RollupService) Validate(cfg *models.RollupConfig) error {
	if cfg == nil {
		return errs.NewValidationError("rollup", "required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return errs.NewValidationError("name", "required")
	}
	if len(cfg.Name) > s.limits.MaxNameLength {
		return errs.NewValidationError("name", "exceeds maximum length")
	}
	if len(cfg.RepositoryIDs) < 2 {
		return errs.NewValidationError("repository_ids", "at least 2 repositories required")
	}
	if len(cfg.RepositoryIDs) > s.limits.MaxRepositoriesPerRollup {
		return errs.NewValidationError("repository_ids", "too many repositories")
	}
	seen := make(map[string]struct{}, len(cfg.RepositoryIDs))
	for _, repoID := range cfg.RepositoryIDs {
		if repoID == "" {
			return errs.NewValidationError("repository_ids", "repository id must not be empty")
		}
		if _, dup := seen[repoID]; dup {
			return errs.NewValidationError("repository_ids", "duplicate repository id: "+repoID)
		}
		seen[repoID] = struct{}{}
	}
	if len(cfg.Matchers) == 0 {
		return errs.NewValidationError("matchers", "at least 1 matcher required")
	}
	if len(cfg.Matchers) > s.limits.MaxMatchersPerRollup {
		return errs.NewValidationError("matchers", "too many matchers")
	}
	for i, mc := range cfg.Matchers {
		if err := match.Validate(mc); err != nil {
			return errs.NewConfigurationError("matcher %d: %v", i, err)
		}
	}
	// Draft and archived rollups may have every matcher disabled; anything
	// executable may not.
	if cfg.Status != "" && cfg.Status != models.RollupStatusDraft && cfg.Status != models.RollupStatusArchived {
		if len(cfg.EnabledMatchers()) == 0 {
			return errs.NewValidationError("matchers", "at least one enabled matcher required")
		}
	}
	if cfg.Schedule != "" {
		if fields := len(strings.Fields(cfg.Schedule)); fields != 5 && fields != 6 {
			return errs.NewConfigurationError("schedule: cron expression must have 5 or 6 fields, got %d", fields)
		}
	}
	if cfg.MergeOptions.MaxNodes <= 0 {
		return errs.NewValidationError("merge_options.max_nodes", "must be positive")
	}
	if !models.KnownConflictResolution(cfg.MergeOptions.ConflictResolution) {
		return errs.NewValidationError("merge_options.conflict_resolution",
			"unknown strategy '"+string(cfg.MergeOptions.ConflictResolution)+"'")
	}
	return nil
}

// ExecuteRequest tunes one execution dispatch.
type ExecuteRequest struct {
	// ScanIDs pins specific scans, aligned positionally with the rollup's
	// repository order. Empty means latest scan per repository.
	ScanIDs []string `json:"scan_ids,omitempty"`
	// Priority orders the execution queue; higher runs first.
	Priority int `json:"priority,omitempty"`
	// Timeout is the wall-clock budget; zero uses the configured default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Execute creates a pending execution and enqueues it. Executions beyond
// the concurrency cap queue up; they are never rejected. The started event
// is emitted by the worker when processing begins, not here.
func (s *RollupService) Execute(ctx context.Context, tenantID, rollupID string, req ExecuteRequest) (*models.RollupExecution, error) {
	rollup, err := s.rollups.GetRollup(ctx, tenantID, rollupID)
	if err != nil {
		return nil, err
	}
	if rollup.Status == models.RollupStatusArchived {
		return nil, errs.NewValidationError("status", "archived rollups cannot be executed")
	}
	if len(req.ScanIDs) > 0 && len(req.ScanIDs) != len(rollup.RepositoryIDs) {
		return nil, errs.NewValidationError("scan_ids",
			"must align with the rollup's repositories (one scan id per repository)")
	}

	exec := &models.RollupExecution{
		ID:        models.NewExecutionID(),
		RollupID:  rollupID,
		TenantID:  tenantID,
		Status:    models.ExecutionStatusPending,
		ScanIDs:   append([]string(nil), req.ScanIDs...),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.rollups.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if _, err := s.orc.EnqueueExecution(ctx, exec, orchestrator.EnqueueOptions{
		Priority: req.Priority,
		Timeout:  req.Timeout,
	}); err != nil {
		return nil, err
	}
	slog.Info("Execution enqueued",
		"tenant_id", tenantID, "rollup_id", rollupID, "execution_id", exec.ID)
	return exec, nil
}

// ExecutionResultView is the execution record plus, once completed, the
// result summary.
type ExecutionResultView struct {
	Execution *models.RollupExecution       `json:"execution"`
	Result    *orchestrator.ExecutionResult `json:"result,omitempty"`
}

// GetExecutionResult fetches an execution and, when completed, its result
// summary: from the execution-result cache when warm, rebuilt from the
// persisted merged graph otherwise.
func (s *RollupService) GetExecutionResult(ctx context.Context, tenantID, executionID string) (*ExecutionResultView, error) {
	exec, err := s.rollups.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	view := &ExecutionResultView{Execution: exec}
	if exec.Status != models.ExecutionStatusCompleted {
		return view, nil
	}

	key := rollupcache.Key(s.keyPrefix, rollupcache.KeyspaceExecutionResult, tenantID,
		map[string]any{"execution_id": executionID})
	if s.cache != nil {
		if payload, ok := s.cache.Get(ctx, rollupcache.KeyspaceExecutionResult, key); ok {
			var result orchestrator.ExecutionResult
			if err := json.Unmarshal(payload, &result); err == nil {
				view.Result = &result
				return view, nil
			}
		}
	}

	merged, err := s.scans.GetMergedGraph(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	var durationMs int64
	if exec.StartedAt != nil && exec.CompletedAt != nil {
		durationMs = exec.CompletedAt.Sub(*exec.StartedAt).Milliseconds()
	}
	view.Result = &orchestrator.ExecutionResult{
		ExecutionID:  exec.ID,
		RollupID:     exec.RollupID,
		MergedNodes:  len(merged.Nodes),
		MergedEdges:  len(merged.Edges),
		MatchesFound: exec.Progress.MatchesFound,
		DurationMs:   durationMs,
	}
	return view, nil
}

// Cancel flags an execution for cancellation.
func (s *RollupService) Cancel(ctx context.Context, tenantID, executionID string) error {
	return s.orc.Cancel(ctx, tenantID, executionID)
}

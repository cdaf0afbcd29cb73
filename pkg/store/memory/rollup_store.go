package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
)

// RollupStore is an in-memory rollup/execution/DLQ store.
type RollupStore struct {
	mu          sync.RWMutex
	rollups     map[string]*models.RollupConfig    // rollupID -> config
	executions  map[string]*models.RollupExecution // executionID -> execution
	deadLetters map[string]*models.DeadLetterEntry // dlqID -> entry
}

// NewRollupStore creates an empty in-memory rollup store.
func NewRollupStore() *RollupStore {
	return &RollupStore{
		rollups:     make(map[string]*models.RollupConfig),
		executions:  make(map[string]*models.RollupExecution),
		deadLetters: make(map[string]*models.DeadLetterEntry),
	}
}

func cloneRollup(cfg *models.RollupConfig) *models.RollupConfig {
	cp := *cfg
	cp.RepositoryIDs = append([]string(nil), cfg.RepositoryIDs...)
	cp.Matchers = append([]models.MatcherConfig(nil), cfg.Matchers...)
	return &cp
}

func cloneExecution(exec *models.RollupExecution) *models.RollupExecution {
	cp := *exec
	cp.ScanIDs = append([]string(nil), exec.ScanIDs...)
	if exec.Checkpoint != nil {
		ck := *exec.Checkpoint
		cp.Checkpoint = &ck
	}
	if exec.PartialResults != nil {
		pr := *exec.PartialResults
		cp.PartialResults = &pr
	}
	if exec.ErrorDetails != nil {
		ed := *exec.ErrorDetails
		cp.ErrorDetails = &ed
	}
	return &cp
}

// CreateRollup implements store.RollupStore.
func (s *RollupStore) CreateRollup(_ context.Context, cfg *models.RollupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rollups[cfg.ID]; exists {
		return errs.NewValidationError("rollup_id", "already exists")
	}
	s.rollups[cfg.ID] = cloneRollup(cfg)
	return nil
}

// GetRollup implements store.RollupStore. A tenant mismatch is reported as
// not-found, never as a permission error.
func (s *RollupStore) GetRollup(_ context.Context, tenantID, rollupID string) (*models.RollupConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.rollups[rollupID]
	if !ok || cfg.TenantID != tenantID {
		return nil, errs.NewNotFoundError("rollup", rollupID)
	}
	return cloneRollup(cfg), nil
}

// UpdateRollup implements store.RollupStore with an optimistic version check.
func (s *RollupStore) UpdateRollup(_ context.Context, cfg *models.RollupConfig, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rollups[cfg.ID]
	if !ok || current.TenantID != cfg.TenantID {
		return errs.NewNotFoundError("rollup", cfg.ID)
	}
	if current.Version != expectedVersion {
		return &errs.ConflictError{
			Entity:          "rollup",
			ID:              cfg.ID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current.Version,
		}
	}
	next := cloneRollup(cfg)
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.rollups[cfg.ID] = next
	cfg.Version = next.Version
	cfg.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteRollup implements store.RollupStore.
func (s *RollupStore) DeleteRollup(_ context.Context, tenantID, rollupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rollups[rollupID]
	if !ok || cfg.TenantID != tenantID {
		return errs.NewNotFoundError("rollup", rollupID)
	}
	delete(s.rollups, rollupID)
	return nil
}

// ListRollups implements store.RollupStore.
func (s *RollupStore) ListRollups(_ context.Context, tenantID string, filters models.RollupFilters) (*models.RollupListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.RollupConfig
	for _, cfg := range s.rollups {
		if cfg.TenantID != tenantID {
			continue
		}
		if filters.Status != "" && cfg.Status != filters.Status {
			continue
		}
		if filters.Name != "" && !strings.Contains(strings.ToLower(cfg.Name), strings.ToLower(filters.Name)) {
			continue
		}
		matched = append(matched, cloneRollup(cfg))
	}

	less := func(i, j int) bool {
		switch filters.SortBy {
		case "name":
			return matched[i].Name < matched[j].Name
		case "updated_at":
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		default:
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
	}
	if filters.SortDesc {
		sort.SliceStable(matched, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(matched, less)
	}

	total := len(matched)
	matched = paginate(matched, filters.Limit, filters.Offset)
	return &models.RollupListResult{
		Rollups:    matched,
		TotalCount: total,
		Limit:      filters.Limit,
		Offset:     filters.Offset,
	}, nil
}

// CreateExecution implements store.RollupStore.
func (s *RollupStore) CreateExecution(_ context.Context, exec *models.RollupExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

// GetExecution implements store.RollupStore.
func (s *RollupStore) GetExecution(_ context.Context, tenantID, executionID string) (*models.RollupExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[executionID]
	if !ok || exec.TenantID != tenantID {
		return nil, errs.NewNotFoundError("execution", executionID)
	}
	return cloneExecution(exec), nil
}

// UpdateExecution implements store.RollupStore.
func (s *RollupStore) UpdateExecution(_ context.Context, exec *models.RollupExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return errs.NewNotFoundError("execution", exec.ID)
	}
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

// ListExecutionsByStatus implements store.RollupStore.
func (s *RollupStore) ListExecutionsByStatus(_ context.Context, tenantID string, status models.ExecutionStatus) ([]*models.RollupExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RollupExecution
	for _, exec := range s.executions {
		if exec.TenantID == tenantID && exec.Status == status {
			out = append(out, cloneExecution(exec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountActiveExecutions implements store.RollupStore.
func (s *RollupStore) CountActiveExecutions(_ context.Context, rollupID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, exec := range s.executions {
		if exec.RollupID == rollupID && !exec.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

// SaveDeadLetter implements store.RollupStore.
func (s *RollupStore) SaveDeadLetter(_ context.Context, entry *models.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.deadLetters[entry.ID] = &cp
	return nil
}

// GetDeadLetter implements store.RollupStore.
func (s *RollupStore) GetDeadLetter(_ context.Context, tenantID, id string) (*models.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.deadLetters[id]
	if !ok || entry.TenantID != tenantID {
		return nil, errs.NewNotFoundError("dead letter entry", id)
	}
	cp := *entry
	return &cp, nil
}

// UpdateDeadLetter implements store.RollupStore.
func (s *RollupStore) UpdateDeadLetter(_ context.Context, entry *models.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deadLetters[entry.ID]; !ok {
		return errs.NewNotFoundError("dead letter entry", entry.ID)
	}
	cp := *entry
	s.deadLetters[entry.ID] = &cp
	return nil
}

// ListDeadLetters implements store.RollupStore.
func (s *RollupStore) ListDeadLetters(_ context.Context, tenantID string, limit, offset int) ([]*models.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DeadLetterEntry
	for _, entry := range s.deadLetters {
		if entry.TenantID == tenantID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

// CountDeadLetters implements store.RollupStore.
func (s *RollupStore) CountDeadLetters(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deadLetters), nil
}

// DeleteOldestDeadLetters implements store.RollupStore.
func (s *RollupStore) DeleteOldestDeadLetters(_ context.Context, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*models.DeadLetterEntry, 0, len(s.deadLetters))
	for _, entry := range s.deadLetters {
		all = append(all, entry)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	deleted := 0
	for i := 0; i < n && i < len(all); i++ {
		delete(s.deadLetters, all[i].ID)
		deleted++
	}
	return deleted, nil
}

// DeleteDeadLettersBefore implements store.RollupStore.
func (s *RollupStore) DeleteDeadLettersBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, entry := range s.deadLetters {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.deadLetters, id)
			deleted++
		}
	}
	return deleted, nil
}

// Package memory provides in-process implementations of the store
// contracts. Used by unit tests and the default development wiring.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
)

// ScanGraphStore is an in-memory scan graph store.
type ScanGraphStore struct {
	mu     sync.RWMutex
	latest map[string]string              // tenant\x00repo -> scanID
	graphs map[string]*models.Graph       // tenant\x00scan -> graph
	merged map[string]*models.MergedGraph // tenant\x00execution -> merged graph
}

// NewScanGraphStore creates an empty in-memory scan graph store.
func NewScanGraphStore() *ScanGraphStore {
	return &ScanGraphStore{
		latest: make(map[string]string),
		graphs: make(map[string]*models.Graph),
		merged: make(map[string]*models.MergedGraph),
	}
}

func key2(a, b string) string { return a + "\x00" + b }

// AddScan seeds a scan graph and marks it the repository's latest.
func (s *ScanGraphStore) AddScan(tenantID, repositoryID, scanID string, graph *models.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[key2(tenantID, repositoryID)] = scanID
	s.graphs[key2(tenantID, scanID)] = graph
}

// GetLatestScan implements store.ScanGraphStore.
func (s *ScanGraphStore) GetLatestScan(_ context.Context, tenantID, repositoryID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[key2(tenantID, repositoryID)], nil
}

// GetGraph implements store.ScanGraphStore.
func (s *ScanGraphStore) GetGraph(_ context.Context, tenantID, scanID string) (*models.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[key2(tenantID, scanID)]
	if !ok {
		return nil, errs.NewNotFoundError("scan", scanID)
	}
	return g, nil
}

// PersistMergedGraph implements store.ScanGraphStore.
func (s *ScanGraphStore) PersistMergedGraph(_ context.Context, tenantID, executionID string, graph *models.MergedGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged[key2(tenantID, executionID)] = graph
	return nil
}

// GetMergedGraph implements store.ScanGraphStore.
func (s *ScanGraphStore) GetMergedGraph(_ context.Context, tenantID, executionID string) (*models.MergedGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.merged[key2(tenantID, executionID)]
	if !ok {
		return nil, errs.NewNotFoundError("merged graph", executionID)
	}
	return g, nil
}

// ExternalObjectStore is an in-memory external-object index store.
type ExternalObjectStore struct {
	mu      sync.RWMutex
	entries map[string]*models.ExternalObjectEntry // uniqueness key -> entry
}

// NewExternalObjectStore creates an empty in-memory entry store.
func NewExternalObjectStore() *ExternalObjectStore {
	return &ExternalObjectStore{entries: make(map[string]*models.ExternalObjectEntry)}
}

func entryKey(e *models.ExternalObjectEntry) string {
	return strings.Join([]string{e.TenantID, e.RepositoryID, e.ScanID, e.NodeID, e.ExternalID}, "\x00")
}

// SaveEntries implements store.ExternalObjectStore.
func (s *ExternalObjectStore) SaveEntries(_ context.Context, entries []*models.ExternalObjectEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[entryKey(e)] = e
	}
	return len(entries), nil
}

func matchesFilter(e *models.ExternalObjectEntry, filter models.EntryFilter) bool {
	if filter.RepositoryID != "" && e.RepositoryID != filter.RepositoryID {
		return false
	}
	if filter.ScanID != "" && e.ScanID != filter.ScanID {
		return false
	}
	if filter.ReferenceType != "" && e.ReferenceType != filter.ReferenceType {
		return false
	}
	return true
}

// FindByExternalID implements store.ExternalObjectStore.
func (s *ExternalObjectStore) FindByExternalID(_ context.Context, tenantID, externalID string, filter models.EntryFilter) ([]*models.ExternalObjectEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExternalObjectEntry
	for _, e := range s.entries {
		if e.TenantID != tenantID {
			continue
		}
		if e.ExternalID != externalID && e.NormalizedID != externalID {
			continue
		}
		if !matchesFilter(e, filter) {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return paginate(out, filter.Limit, filter.Offset), nil
}

// FindByNodeID implements store.ExternalObjectStore.
func (s *ExternalObjectStore) FindByNodeID(_ context.Context, tenantID, nodeID, scanID string) ([]*models.ExternalObjectEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExternalObjectEntry
	for _, e := range s.entries {
		if e.TenantID != tenantID || e.NodeID != nodeID {
			continue
		}
		if scanID != "" && e.ScanID != scanID {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// DeleteEntries implements store.ExternalObjectStore.
func (s *ExternalObjectStore) DeleteEntries(_ context.Context, tenantID string, filter models.EntryFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for k, e := range s.entries {
		if e.TenantID != tenantID || !matchesFilter(e, filter) {
			continue
		}
		delete(s.entries, k)
		count++
	}
	return count, nil
}

// CountEntries implements store.ExternalObjectStore.
func (s *ExternalObjectStore) CountEntries(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		if e.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

// CountByType implements store.ExternalObjectStore.
func (s *ExternalObjectStore) CountByType(_ context.Context, tenantID string) (map[models.ReferenceType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.ReferenceType]int)
	for _, e := range s.entries {
		if e.TenantID == tenantID {
			out[e.ReferenceType]++
		}
	}
	return out, nil
}

func sortEntries(entries []*models.ExternalObjectEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RepositoryID != entries[j].RepositoryID {
			return entries[i].RepositoryID < entries[j].RepositoryID
		}
		return entries[i].NodeID < entries[j].NodeID
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/crossgraph/rollup/pkg/errs"
	"github.com/crossgraph/rollup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollupStore_TenantScoping(t *testing.T) {
	s := NewRollupStore()
	ctx := context.Background()

	cfg := &models.RollupConfig{
		ID:            models.NewRollupID(),
		TenantID:      "tenant-a",
		Name:          "prod rollup",
		RepositoryIDs: []string{"r1", "r2"},
		Status:        models.RollupStatusDraft,
		Version:       1,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.CreateRollup(ctx, cfg))

	// Owner reads succeed.
	got, err := s.GetRollup(ctx, "tenant-a", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.Name, got.Name)

	// Cross-tenant reads fail closed with not-found.
	_, err = s.GetRollup(ctx, "tenant-b", cfg.ID)
	assert.True(t, errs.IsNotFound(err))

	// Cross-tenant list returns zero rows.
	list, err := s.ListRollups(ctx, "tenant-b", models.RollupFilters{})
	require.NoError(t, err)
	assert.Zero(t, list.TotalCount)
}

func TestRollupStore_OptimisticConcurrency(t *testing.T) {
	s := NewRollupStore()
	ctx := context.Background()

	cfg := &models.RollupConfig{
		ID:       models.NewRollupID(),
		TenantID: "tenant-a",
		Name:     "v1",
		Status:   models.RollupStatusDraft,
		Version:  1,
	}
	require.NoError(t, s.CreateRollup(ctx, cfg))

	// First update with the right version succeeds and bumps the version.
	cfg.Name = "v2"
	require.NoError(t, s.UpdateRollup(ctx, cfg, 1))
	assert.Equal(t, 2, cfg.Version)

	// Second update with the stale version conflicts.
	stale := *cfg
	stale.Name = "v3"
	err := s.UpdateRollup(ctx, &stale, 1)
	require.Error(t, err)
	var conflict *errs.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, conflict.ActualVersion)
}

func TestRollupStore_ListSortAndPaginate(t *testing.T) {
	s := NewRollupStore()
	ctx := context.Background()

	base := time.Now()
	for i, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.CreateRollup(ctx, &models.RollupConfig{
			ID:        models.NewRollupID(),
			TenantID:  "t",
			Name:      name,
			Status:    models.RollupStatusDraft,
			Version:   1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := s.ListRollups(ctx, "t", models.RollupFilters{SortBy: "name", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, list.TotalCount)
	require.Len(t, list.Rollups, 2)
	assert.Equal(t, "alpha", list.Rollups[0].Name)
	assert.Equal(t, "bravo", list.Rollups[1].Name)
}

func TestExternalObjectStore_UpsertAndFilter(t *testing.T) {
	s := NewExternalObjectStore()
	ctx := context.Background()

	entry := &models.ExternalObjectEntry{
		ID:            models.NewEntryID(),
		ExternalID:    "arn:aws:s3:::foo",
		NormalizedID:  "arn:aws:s3:::foo",
		ReferenceType: models.ReferenceTypeARN,
		TenantID:      "t",
		RepositoryID:  "repo-a",
		ScanID:        "scan-1",
		NodeID:        "n1",
	}
	_, err := s.SaveEntries(ctx, []*models.ExternalObjectEntry{entry})
	require.NoError(t, err)

	// Saving the same uniqueness tuple again does not duplicate.
	dup := *entry
	dup.ID = models.NewEntryID()
	_, err = s.SaveEntries(ctx, []*models.ExternalObjectEntry{&dup})
	require.NoError(t, err)

	count, err := s.CountEntries(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	found, err := s.FindByExternalID(ctx, "t", "arn:aws:s3:::foo", models.EntryFilter{ReferenceType: models.ReferenceTypeARN})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	// Wrong tenant sees nothing.
	found, err = s.FindByExternalID(ctx, "other", "arn:aws:s3:::foo", models.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, found)

	byType, err := s.CountByType(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, byType[models.ReferenceTypeARN])
}

func TestRollupStore_DeadLetterEvictionAndSweep(t *testing.T) {
	s := NewRollupStore()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveDeadLetter(ctx, &models.DeadLetterEntry{
			ID:        models.NewDeadLetterID(),
			TenantID:  "t",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	deleted, err := s.DeleteOldestDeadLetters(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := s.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	swept, err := s.DeleteDeadLettersBefore(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, swept)
}

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmer_DrainsJobsAndReportsProgress(t *testing.T) {
	w := NewWarmer(context.Background(), 2)
	defer w.Close()

	var mu sync.Mutex
	warmed := make(map[string]int)
	w.RegisterLoader(KeyspaceMergedGraph, func(_ context.Context, tenantID, rollupID string, _ bool) error {
		mu.Lock()
		defer mu.Unlock()
		warmed[tenantID+"/"+rollupID]++
		return nil
	})

	var progress []WarmProgress
	done := make(chan struct{})
	ok := w.Enqueue(WarmingJob{
		TenantID:    "t",
		RollupIDs:   []string{"r1", "r2"},
		TargetTypes: []Keyspace{KeyspaceMergedGraph},
		Priority:    WarmPriorityNormal,
		OnProgress: func(p WarmProgress) {
			mu.Lock()
			progress = append(progress, p)
			if p.Completed+p.Failed == p.Total {
				close(done)
			}
			mu.Unlock()
		},
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("warming job did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, warmed["t/r1"])
	assert.Equal(t, 1, warmed["t/r2"])
	assert.Len(t, progress, 2)
}

func TestWarmer_ItemFailuresDoNotFailJob(t *testing.T) {
	w := NewWarmer(context.Background(), 1)
	defer w.Close()

	w.RegisterLoader(KeyspaceBlastRadius, func(_ context.Context, _, rollupID string, _ bool) error {
		if rollupID == "bad" {
			return errors.New("load failed")
		}
		return nil
	})

	done := make(chan WarmProgress, 4)
	require.True(t, w.Enqueue(WarmingJob{
		TenantID:    "t",
		RollupIDs:   []string{"bad", "good"},
		TargetTypes: []Keyspace{KeyspaceBlastRadius},
		Priority:    WarmPriorityHigh,
		OnProgress:  func(p WarmProgress) { done <- p },
	}))

	var last WarmProgress
	for i := 0; i < 2; i++ {
		select {
		case last = <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("warming job did not finish")
		}
	}
	assert.Equal(t, 1, last.Completed)
	assert.Equal(t, 1, last.Failed)
}

func TestWarmer_MaxItems(t *testing.T) {
	w := NewWarmer(context.Background(), 1)
	defer w.Close()

	var mu sync.Mutex
	count := 0
	loaded := make(chan struct{}, 10)
	w.RegisterLoader(KeyspaceExecutionResult, func(_ context.Context, _, _ string, _ bool) error {
		mu.Lock()
		count++
		mu.Unlock()
		loaded <- struct{}{}
		return nil
	})

	require.True(t, w.Enqueue(WarmingJob{
		TenantID:    "t",
		RollupIDs:   []string{"r1", "r2", "r3"},
		TargetTypes: []Keyspace{KeyspaceExecutionResult},
		MaxItems:    2,
	}))

	for i := 0; i < 2; i++ {
		select {
		case <-loaded:
		case <-time.After(5 * time.Second):
			t.Fatal("warming did not run")
		}
	}
	w.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestWarmer_RejectsAfterClose(t *testing.T) {
	w := NewWarmer(context.Background(), 1)
	w.Close()
	assert.False(t, w.Enqueue(WarmingJob{TenantID: "t"}))
}

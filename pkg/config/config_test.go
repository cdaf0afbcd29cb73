package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_Defaults(t *testing.T) {
	cfg, err := Initialize("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Limits.MaxRepositoriesPerRollup)
	assert.Equal(t, 500, cfg.Limits.IndexBatchSize)
	assert.Equal(t, 300*time.Second, cfg.Limits.DefaultTimeout)
	assert.Equal(t, 5, cfg.Orchestrator.WorkerCount)
	assert.Equal(t, 3, cfg.Orchestrator.ExecutionRetry.MaxAttempts)
	assert.Equal(t, "rollup:events", cfg.Events.ChannelPrefix)
	assert.Equal(t, "ro", cfg.Cache.KeyPrefix)
	assert.Equal(t, 1500, cfg.Cache.L1MaxExecutionResults)
	assert.Equal(t, 1000, cfg.Orchestrator.DeadLetterQueueMaxSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Orchestrator.DeadLetterRetention)
}

func TestInitialize_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollup.yaml")
	content := `
limits:
  max_repositories_per_rollup: 4
  max_matchers_per_rollup: 3
  max_merged_nodes: 500
  default_timeout: 30s
  max_timeout: 60s
  index_batch_size: 100
  index_error_ratio: 0.2
orchestrator:
  worker_count: 2
  max_concurrent_executions: 2
  cancel_check_interval: 100
  dead_letter_queue_max_size: 50
  execution_retry:
    max_attempts: 5
    base_delay: 500ms
    backoff_multiplier: 2
    max_delay: 10s
    jitter_factor: 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Initialize(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Limits.MaxRepositoriesPerRollup)
	assert.Equal(t, 100, cfg.Limits.IndexBatchSize)
	assert.Equal(t, 2, cfg.Orchestrator.WorkerCount)
	assert.Equal(t, 5, cfg.Orchestrator.ExecutionRetry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.ExecutionRetry.BaseDelay)
	// Untouched sections keep defaults.
	assert.Equal(t, "rollup:events", cfg.Events.ChannelPrefix)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("ROLLUP_TEST_DB_HOST", "db.internal")

	dir := t.TempDir()
	path := filepath.Join(dir, "rollup.yaml")
	content := `
database:
  host: "{{.ROLLUP_TEST_DB_HOST}}"
  port: 5432
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Initialize(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestExpandEnv_PreservesDollarSigns(t *testing.T) {
	in := []byte(`pattern: "^secret.*$"`)
	out := ExpandEnv(in)
	assert.Equal(t, in, out)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "too few repositories",
			mutate: func(c *Config) { c.Limits.MaxRepositoriesPerRollup = 1 },
			want:   "max_repositories_per_rollup",
		},
		{
			name:   "zero workers",
			mutate: func(c *Config) { c.Orchestrator.WorkerCount = 0 },
			want:   "worker_count",
		},
		{
			name:   "bad jitter",
			mutate: func(c *Config) { c.Orchestrator.ExecutionRetry.JitterFactor = 1.5 },
			want:   "jitter_factor",
		},
		{
			name:   "empty key prefix",
			mutate: func(c *Config) { c.Cache.KeyPrefix = "" },
			want:   "key_prefix",
		},
		{
			name:   "error ratio out of range",
			mutate: func(c *Config) { c.Limits.IndexErrorRatio = 1.5 },
			want:   "index_error_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

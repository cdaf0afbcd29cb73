package config

import "time"

// LimitsConfig holds rollup policy limits and execution timeouts.
type LimitsConfig struct {
	// MaxRepositoriesPerRollup bounds RollupConfig.repository_ids.
	MaxRepositoriesPerRollup int `yaml:"max_repositories_per_rollup"`

	// MaxMatchersPerRollup bounds RollupConfig.matchers.
	MaxMatchersPerRollup int `yaml:"max_matchers_per_rollup"`

	// MaxMergedNodes bounds the merged graph size per execution.
	MaxMergedNodes int `yaml:"max_merged_nodes"`

	// MaxNameLength bounds RollupConfig.name.
	MaxNameLength int `yaml:"max_name_length"`

	// DefaultTimeout is the execution wall-clock budget when the caller
	// does not supply one. Clipped to [1s, MaxTimeout].
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxTimeout caps the execution wall-clock budget.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// MaxGraphNodes bounds blast-radius traversal; exceeding it truncates.
	MaxGraphNodes int `yaml:"max_graph_nodes"`

	// MaxBlastDepth is the default BFS depth for blast-radius queries.
	MaxBlastDepth int `yaml:"max_blast_depth"`

	// IndexBatchSize is the external-object save batch size.
	IndexBatchSize int `yaml:"index_batch_size"`

	// IndexErrorRatio fails an index build when exceeded (0..1).
	IndexErrorRatio float64 `yaml:"index_error_ratio"`
}

// DefaultLimitsConfig returns the built-in limits.
func DefaultLimitsConfig() *LimitsConfig {
	return &LimitsConfig{
		MaxRepositoriesPerRollup: 10,
		MaxMatchersPerRollup:     20,
		MaxMergedNodes:           10000,
		MaxNameLength:            255,
		DefaultTimeout:           300 * time.Second,
		MaxTimeout:               3600 * time.Second,
		MaxGraphNodes:            100000,
		MaxBlastDepth:            50,
		IndexBatchSize:           500,
		IndexErrorRatio:          0.10,
	}
}

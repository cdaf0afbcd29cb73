package config

import "time"

// CacheConfig contains two-tier cache settings.
type CacheConfig struct {
	// EnableL1 toggles the in-process LRU layer.
	EnableL1 bool `yaml:"enable_l1"`

	// EnableL2 toggles the remote blob cache layer.
	EnableL2 bool `yaml:"enable_l2"`

	// KeyPrefix prefixes every cache key ("ro" by default).
	KeyPrefix string `yaml:"key_prefix"`

	// L1MaxSize is the default per-keyspace entry bound; per-keyspace
	// overrides below take precedence.
	L1MaxSize int `yaml:"l1_max_size"`

	// L1MaxExecutionResults bounds the execution-result keyspace.
	L1MaxExecutionResults int `yaml:"l1_max_execution_results"`

	// L1MaxMergedGraphs bounds the merged-graph keyspace.
	L1MaxMergedGraphs int `yaml:"l1_max_merged_graphs"`

	// L1MaxBlastRadii bounds the blast-radius keyspace.
	L1MaxBlastRadii int `yaml:"l1_max_blast_radii"`

	// L1TTL is the in-process entry lifetime.
	L1TTL time.Duration `yaml:"l1_ttl"`

	// L2TTL is the remote entry lifetime.
	L2TTL time.Duration `yaml:"l2_ttl"`

	// EnableResultCaching toggles caching of execution results.
	EnableResultCaching bool `yaml:"enable_result_caching"`

	// ResultCacheTTL overrides L2TTL for execution results.
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`

	// WarmingWorkers is the warming processor pool size.
	WarmingWorkers int `yaml:"warming_workers"`
}

// DefaultCacheConfig returns the built-in cache defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		EnableL1:              true,
		EnableL2:              true,
		KeyPrefix:             "ro",
		L1MaxSize:             1000,
		L1MaxExecutionResults: 1500,
		L1MaxMergedGraphs:     1000,
		L1MaxBlastRadii:       1000,
		L1TTL:                 5 * time.Minute,
		L2TTL:                 30 * time.Minute,
		EnableResultCaching:   true,
		ResultCacheTTL:        15 * time.Minute,
		WarmingWorkers:        2,
	}
}

// RedisConfig holds connection settings for the L2 cache and event bus.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultRedisConfig returns the built-in redis defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:  "localhost:6379",
		Password: "",
		DB:       0,
	}
}

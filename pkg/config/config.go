// Package config loads, defaults, and validates the rollup engine
// configuration from rollup.yaml plus environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Limits       *LimitsConfig       `yaml:"limits"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Cache        *CacheConfig        `yaml:"cache"`
	Events       *EventsConfig       `yaml:"events"`
	Database     *DatabaseConfig     `yaml:"database"`
	Redis        *RedisConfig        `yaml:"redis"`
	Server       *ServerConfig       `yaml:"server"`
}

// Initialize loads, defaults, and validates ready-to-use configuration.
// configPath may point to a rollup.yaml file; when empty or missing, the
// built-in defaults are used. A .env file next to the config (or in the
// working directory) is loaded first so {{.VAR}} expansion sees it.
func Initialize(configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)
	log.Info("Initializing configuration")

	loadDotEnv(configPath)

	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			log.Info("Config file not found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			expanded := ExpandEnv(data)
			if err := yaml.Unmarshal(expanded, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}

	log.Info("Configuration initialized",
		"max_repositories", cfg.Limits.MaxRepositoriesPerRollup,
		"max_matchers", cfg.Limits.MaxMatchersPerRollup,
		"workers", cfg.Orchestrator.WorkerCount)
	return cfg, nil
}

// Default returns the complete built-in configuration.
func Default() *Config {
	return &Config{
		Limits:       DefaultLimitsConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Cache:        DefaultCacheConfig(),
		Events:       DefaultEventsConfig(),
		Database:     DefaultDatabaseConfig(),
		Redis:        DefaultRedisConfig(),
		Server:       DefaultServerConfig(),
	}
}

// applyDefaults fills sections the YAML document omitted entirely.
func (c *Config) applyDefaults() {
	if c.Limits == nil {
		c.Limits = DefaultLimitsConfig()
	}
	if c.Orchestrator == nil {
		c.Orchestrator = DefaultOrchestratorConfig()
	}
	if c.Cache == nil {
		c.Cache = DefaultCacheConfig()
	}
	if c.Events == nil {
		c.Events = DefaultEventsConfig()
	}
	if c.Database == nil {
		c.Database = DefaultDatabaseConfig()
	}
	if c.Redis == nil {
		c.Redis = DefaultRedisConfig()
	}
	if c.Server == nil {
		c.Server = DefaultServerConfig()
	}
}

// loadDotEnv loads a .env file beside the config file or in the working
// directory. Missing files are fine.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if err := godotenv.Load(p); err == nil {
			slog.Debug("Loaded environment file", "path", p)
			return
		}
	}
}

// RetryPolicyConfig controls exponential backoff behavior.
type RetryPolicyConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	JitterFactor      float64       `yaml:"jitter_factor"`
	Timeout           time.Duration `yaml:"timeout"`
}

// DefaultRetryPolicyConfig returns the default retry policy
// (3 attempts, 1s base, x2, 30s cap, ±10% jitter).
func DefaultRetryPolicyConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		MaxAttempts:       3,
		BaseDelay:         1 * time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
		JitterFactor:      0.1,
		Timeout:           60 * time.Second,
	}
}

// CircuitBreakerConfig controls the per-service breakers around external calls.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	FailureWindow    time.Duration `yaml:"failure_window"`
}

// DefaultCircuitBreakerConfig returns the built-in breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		FailureWindow:    60 * time.Second,
	}
}

// Package config loads the YAML-driven Config of SPEC_FULL.md §4.10: budget,
// cache/dedup tuning, and persistent-cache path. Grounded on the teacher's
// internal/config.Config: env-var expansion with `${VAR:-default}` applied
// to the raw file bytes before YAML unmarshal, and an explicit Validate()
// pass, trimmed to this core's concerns (the teacher's server/pipes/
// preemptive sections have no analog here).
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compresr/context-optimizer/internal/optimizer"
)

// envPattern matches ${VAR} or ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// CacheConfig configures the persistent cache.
type CacheConfig struct {
	Path          string        `yaml:"path"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
}

// DedupConfig configures the in-memory deduplicator.
type DedupConfig struct {
	MaxSize              int           `yaml:"max_size"`
	DefaultCacheDuration  time.Duration `yaml:"default_cache_duration"`
	EntrySweepPeriod      time.Duration `yaml:"entry_sweep_period"`
	PrimitiveSweepPeriod  time.Duration `yaml:"primitive_sweep_period"`
	PrimitiveIdleWindow   time.Duration `yaml:"primitive_idle_window"`
}

// Config is the process-wide configuration for the optimization core.
type Config struct {
	Budget optimizer.Config `yaml:"budget"`
	Cache  CacheConfig      `yaml:"cache"`
	Dedup  DedupConfig      `yaml:"dedup"`
}

// rawConfig mirrors optimizer.Config's fields with yaml tags, since
// optimizer.Config itself carries no struct tags (it is an internal-package
// type shared with callers that build it programmatically too).
type rawConfig struct {
	Budget struct {
		MaxTokensPerRequest  int     `yaml:"max_tokens_per_request"`
		MaxTokensPerResponse int     `yaml:"max_tokens_per_response"`
		WarningThreshold     float64 `yaml:"warning_threshold"`
		AutoOptimize         bool    `yaml:"auto_optimize"`
	} `yaml:"budget"`
	Cache CacheConfig `yaml:"cache"`
	Dedup DedupConfig `yaml:"dedup"`
}

// Default returns the documented defaults for every section.
func Default() Config {
	return Config{
		Budget: optimizer.DefaultConfig(),
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Minute,
		},
		Dedup: DedupConfig{
			MaxSize:              1000,
			DefaultCacheDuration: 5 * time.Minute,
			EntrySweepPeriod:     time.Minute,
			PrimitiveSweepPeriod: 5 * time.Minute,
			PrimitiveIdleWindow:  5 * time.Minute,
		},
	}
}

// Load reads path, expands env vars, and unmarshals into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes expands `${VAR}`/`${VAR:-default}` in data and unmarshals
// the result on top of Default(), so fields absent from the file keep their
// documented defaults rather than zero values.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var raw rawConfig
	cfg := Default()
	raw.Budget.MaxTokensPerRequest = cfg.Budget.MaxTokensPerRequest
	raw.Budget.MaxTokensPerResponse = cfg.Budget.MaxTokensPerResponse
	raw.Budget.WarningThreshold = cfg.Budget.WarningThreshold
	raw.Budget.AutoOptimize = cfg.Budget.AutoOptimize
	raw.Cache = cfg.Cache
	raw.Dedup = cfg.Dedup

	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	cfg.Budget = optimizer.Config{
		MaxTokensPerRequest:  raw.Budget.MaxTokensPerRequest,
		MaxTokensPerResponse: raw.Budget.MaxTokensPerResponse,
		WarningThreshold:     raw.Budget.WarningThreshold,
		AutoOptimize:         raw.Budget.AutoOptimize,
	}
	cfg.Cache = raw.Cache
	cfg.Dedup = raw.Dedup

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvWithDefaults replaces ${VAR} and ${VAR:-default} with the
// environment variable's value, falling back to the literal default text
// (or empty string) when unset.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		name, def := parts[1], parts[2]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// Validate enforces SPEC_FULL.md §4.10's invariants.
func (c *Config) Validate() error {
	if c.Budget.WarningThreshold < 0 || c.Budget.WarningThreshold > 1 {
		return errors.New("config: budget.warning_threshold must be in [0,1]")
	}
	if c.Cache.DefaultTTL <= 0 {
		return errors.New("config: cache.default_ttl must be > 0")
	}
	if c.Dedup.MaxSize <= 0 {
		return errors.New("config: dedup.max_size must be > 0")
	}
	if c.Dedup.DefaultCacheDuration <= 0 || c.Dedup.EntrySweepPeriod <= 0 ||
		c.Dedup.PrimitiveSweepPeriod <= 0 || c.Dedup.PrimitiveIdleWindow <= 0 {
		return errors.New("config: dedup durations must all be > 0")
	}
	return nil
}

// Package config holds the host's configuration surface: cache sizing and
// tier toggles, the engine's CPU policy and config fingerprint, and the
// contract cache budget, loaded from environment variables with explicit
// defaults. Each group is a typed struct with its own Validate(), rather
// than one flat bag of settings, so a bad value is rejected at boot next
// to the field it belongs to.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wasmrunner/host/engine"
)

const (
	envPrefix = "RUNNER_"

	DefaultDiskMaxBytes     = 5 * 1024 * 1024 * 1024
	DefaultMemoryMaxBytes   = 512 * 1024 * 1024
	DefaultLFUProtectHits   = 3
	DefaultContractMaxBytes = 256 * 1024 * 1024
)

// CacheConf is the `cache.*` configuration group.
type CacheConf struct {
	Root           string
	DiskEnabled    bool
	MemoryEnabled  bool
	DiskMaxBytes   int64
	MemoryMaxBytes int64
	LFUProtectHits uint64
}

func (c *CacheConf) Validate() error {
	if c.DiskEnabled && c.Root == "" {
		return fmt.Errorf("cache.root must be set when cache.disk_enabled is true")
	}
	if c.MemoryMaxBytes <= 0 {
		return fmt.Errorf("cache.memory_max_bytes must be positive, got %d", c.MemoryMaxBytes)
	}
	if c.DiskMaxBytes <= 0 {
		return fmt.Errorf("cache.disk_max_bytes must be positive, got %d", c.DiskMaxBytes)
	}
	return nil
}

// ContractCacheConf is the `contract_cache.*` configuration group.
type ContractCacheConf struct {
	MaxBytes int64
}

func (c *ContractCacheConf) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("contract_cache.max_bytes must be positive, got %d", c.MaxBytes)
	}
	return nil
}

// EngineConf is the `engine.*` / `cpu_policy` configuration group.
type EngineConf struct {
	CPUPolicy         engine.CPUPolicy
	ConfigFingerprint string
}

func (c *EngineConf) Validate() error {
	switch c.CPUPolicy {
	case engine.CPUPolicyNative, engine.CPUPolicyBaseline:
	default:
		return fmt.Errorf("cpu_policy must be %q or %q, got %q", engine.CPUPolicyNative, engine.CPUPolicyBaseline, c.CPUPolicy)
	}
	return nil
}

// Config is the host's complete configuration, assembled once at boot.
type Config struct {
	Tenant        string
	Cache         CacheConf
	ContractCache ContractCacheConf
	Engine        EngineConf
	CLILocale     string // boot-time CLI override for locale selection, highest precedence
}

// Validate runs every section's Validate in turn.
func (c *Config) Validate() error {
	if c.Tenant == "" {
		return fmt.Errorf("tenant must be set")
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if err := c.ContractCache.Validate(); err != nil {
		return fmt.Errorf("contract_cache config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	return nil
}

// Default returns a config with every spec-documented default applied.
func Default(tenant string) *Config {
	return &Config{
		Tenant: tenant,
		Cache: CacheConf{
			DiskEnabled:    true,
			MemoryEnabled:  true,
			DiskMaxBytes:   DefaultDiskMaxBytes,
			MemoryMaxBytes: DefaultMemoryMaxBytes,
			LFUProtectHits: DefaultLFUProtectHits,
		},
		ContractCache: ContractCacheConf{MaxBytes: DefaultContractMaxBytes},
		Engine:        EngineConf{CPUPolicy: engine.CPUPolicyNative},
	}
}

// FromEnv loads a Config by overlaying RUNNER_*-prefixed environment
// variables onto Default(tenant). Unset variables keep their default.
func FromEnv(tenant string) (*Config, error) {
	cfg := Default(tenant)

	if v := os.Getenv(envPrefix + "CACHE_ROOT"); v != "" {
		cfg.Cache.Root = v
	}
	if v, ok := lookupBool(envPrefix + "CACHE_DISK_ENABLED"); ok {
		cfg.Cache.DiskEnabled = v
	}
	if v, ok := lookupBool(envPrefix + "CACHE_MEMORY_ENABLED"); ok {
		cfg.Cache.MemoryEnabled = v
	}
	if v, ok, err := lookupInt64(envPrefix + "CACHE_DISK_MAX_BYTES"); err != nil {
		return nil, err
	} else if ok {
		cfg.Cache.DiskMaxBytes = v
	}
	if v, ok, err := lookupInt64(envPrefix + "CACHE_MEMORY_MAX_BYTES"); err != nil {
		return nil, err
	} else if ok {
		cfg.Cache.MemoryMaxBytes = v
	}
	if v, ok, err := lookupUint64(envPrefix + "CACHE_LFU_PROTECT_HITS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Cache.LFUProtectHits = v
	}
	if v, ok, err := lookupInt64(envPrefix + "CONTRACT_CACHE_MAX_BYTES"); err != nil {
		return nil, err
	} else if ok {
		cfg.ContractCache.MaxBytes = v
	}
	if v := os.Getenv(envPrefix + "CPU_POLICY"); v != "" {
		cfg.Engine.CPUPolicy = engine.CPUPolicy(strings.ToLower(v))
	}
	if v := os.Getenv(envPrefix + "ENGINE_CONFIG_FINGERPRINT"); v != "" {
		cfg.Engine.ConfigFingerprint = v
	}
	if v := os.Getenv(envPrefix + "LOCALE"); v != "" {
		cfg.CLILocale = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func lookupBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func lookupInt64(name string) (int64, bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, true, nil
}

func lookupUint64(name string) (uint64, bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, true, nil
}

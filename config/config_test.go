package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsMissingTenant(t *testing.T) {
	cfg := Default("")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing tenant")
	}
}

func TestValidateRejectsBadCPUPolicy(t *testing.T) {
	cfg := Default("acme")
	cfg.Engine.CPUPolicy = "quantum"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid cpu_policy")
	}
}

func TestFromEnvOverlaysDefaults(t *testing.T) {
	t.Setenv("RUNNER_CACHE_ROOT", "/tmp/wasmrunner")
	t.Setenv("RUNNER_CACHE_MEMORY_MAX_BYTES", "1024")
	t.Setenv("RUNNER_CPU_POLICY", "baseline")

	cfg, err := FromEnv("acme")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.Root != "/tmp/wasmrunner" {
		t.Fatalf("unexpected cache root: %q", cfg.Cache.Root)
	}
	if cfg.Cache.MemoryMaxBytes != 1024 {
		t.Fatalf("unexpected memory_max_bytes: %d", cfg.Cache.MemoryMaxBytes)
	}
	if cfg.Engine.CPUPolicy != "baseline" {
		t.Fatalf("unexpected cpu_policy: %q", cfg.Engine.CPUPolicy)
	}
	// untouched fields keep their defaults
	if cfg.Cache.DiskMaxBytes != DefaultDiskMaxBytes {
		t.Fatalf("expected default disk_max_bytes, got %d", cfg.Cache.DiskMaxBytes)
	}
}

func TestFromEnvRejectsMalformedInt(t *testing.T) {
	t.Setenv("RUNNER_CACHE_DISK_MAX_BYTES", "not-a-number")
	if _, err := FromEnv("acme"); err == nil {
		t.Fatal("expected error for malformed RUNNER_CACHE_DISK_MAX_BYTES")
	}
}

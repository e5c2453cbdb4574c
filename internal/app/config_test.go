package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	start, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(start) })

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StoreTimeout != 5*time.Second || cfg.StoreRetries != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AIRateLimitPerMin != 50 || cfg.BatchConcurrency != 8 || cfg.ImportMaxBytes != 10<<20 || cfg.SimilarityThreshold != 0.8 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smartexam.yaml")
	if err := os.WriteFile(path, []byte("HTTP_ADDR: \":9000\"\nSTORE_RETRIES: 5\nSIMILARITY_THRESHOLD: 0.65\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("STORE_RETRIES", "7")
	t.Setenv("BATCH_CONCURRENCY", "-2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("file value not applied: %q", cfg.HTTPAddr)
	}
	if cfg.StoreRetries != 7 {
		t.Fatalf("env must win over file, got %d", cfg.StoreRetries)
	}
	if cfg.SimilarityThreshold != 0.65 {
		t.Fatalf("unexpected threshold %v", cfg.SimilarityThreshold)
	}
	if cfg.BatchConcurrency != 8 {
		t.Fatalf("invalid values fall back to defaults, got %d", cfg.BatchConcurrency)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
storage:
  backend: sqlite
  path: /tmp/test.db
fetcher:
  sidecar_url: ws://localhost:9222/extract
markets:
  dayahead:
    AT: ["SDAC"]
    GB: ["GB DAA 1 (60')", "GB DAA 2 (30')"]
  intraday:
    AT: ["SIDC IDA1", "SIDC IDA2"]
  continuous:
    AT: [60, 15]
`

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archiver.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempFile(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "sqlite")
	}
	if cfg.Fetcher.SidecarURL != "ws://localhost:9222/extract" {
		t.Errorf("Fetcher.SidecarURL = %q", cfg.Fetcher.SidecarURL)
	}
	if got := cfg.Markets.Dayahead["GB"]; len(got) != 2 {
		t.Errorf("Markets.Dayahead[GB] = %v, want two labels", got)
	}
	if got := cfg.Markets.Continuous["AT"]; len(got) != 2 || got[0] != 60 || got[1] != 15 {
		t.Errorf("Markets.Continuous[AT] = %v, want [60 15]", got)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
storage:
  backend: postgres
  postgres:
    host: localhost
    name: epex
    user: archiver
    password: ${TEST_DB_PASSWORD}
fetcher:
  sidecar_url: ws://localhost:9222/extract
markets:
  dayahead:
    AT: ["SDAC"]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Postgres.Password != "secret123" {
		t.Errorf("Storage.Postgres.Password = %q, want %q", cfg.Storage.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, minimalYAML)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Run.AuctionLookbackDays != DefaultAuctionLookbackDays {
		t.Errorf("Run.AuctionLookbackDays = %d, want default %d", cfg.Run.AuctionLookbackDays, DefaultAuctionLookbackDays)
	}
	if cfg.Run.ContinuousLookbackDays != DefaultContinuousLookbackDays {
		t.Errorf("Run.ContinuousLookbackDays = %d, want default %d", cfg.Run.ContinuousLookbackDays, DefaultContinuousLookbackDays)
	}
	if cfg.Backoff.Pace != DefaultPace {
		t.Errorf("Backoff.Pace = %v, want default %v", cfg.Backoff.Pace, DefaultPace)
	}
	if cfg.Fetcher.Timeout != DefaultFetchTimeout {
		t.Errorf("Fetcher.Timeout = %v, want default %v", cfg.Fetcher.Timeout, DefaultFetchTimeout)
	}
	if cfg.Validation.MaxAbsPrice != DefaultMaxAbsPrice {
		t.Errorf("Validation.MaxAbsPrice = %v, want default %v", cfg.Validation.MaxAbsPrice, DefaultMaxAbsPrice)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, minimalYAML)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Backoff.Base != DefaultBackoffBase {
		t.Errorf("Backoff.Base = %v, want default %v", cfg.Backoff.Base, DefaultBackoffBase)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	yaml := `
storage:
  backend: sqlite
  path: /tmp/test.db
backoff:
  pace: 800ms
  base: 2s
  max: 1m
fetcher:
  sidecar_url: ws://localhost:9222/extract
  timeout: 90s
markets:
  dayahead:
    AT: ["SDAC"]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backoff.Pace != 800*time.Millisecond {
		t.Errorf("Backoff.Pace = %v, want 800ms", cfg.Backoff.Pace)
	}
	if cfg.Backoff.Max != time.Minute {
		t.Errorf("Backoff.Max = %v, want 1m", cfg.Backoff.Max)
	}
	if cfg.Fetcher.Timeout != 90*time.Second {
		t.Errorf("Fetcher.Timeout = %v, want 90s", cfg.Fetcher.Timeout)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	yaml := `
storage:
  backend: sqlite
backoff:
  pace: soon
`
	path := writeTempFile(t, yaml)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "csv"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestValidateRejectsBadGranularity(t *testing.T) {
	cfg := validConfig()
	cfg.Markets.Continuous = map[string][]int{"AT": {45}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported granularity")
	}
}

func TestValidateRejectsMissingSidecar(t *testing.T) {
	cfg := validConfig()
	cfg.Fetcher.SidecarURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing sidecar url")
	}
}

func TestValidateRejectsBackoffInversion(t *testing.T) {
	cfg := validConfig()
	cfg.Backoff.Base = 10 * time.Second
	cfg.Backoff.Max = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max below base")
	}
}

func validConfig() *Config {
	cfg := &Config{
		Storage: StorageConfig{Backend: "sqlite", Path: "/tmp/test.db"},
		Fetcher: FetcherConfig{SidecarURL: "ws://localhost:9222/extract"},
		Markets: MarketsConfig{
			Dayahead: map[string][]string{"AT": {"SDAC"}},
		},
	}
	cfg.applyDefaults()
	return cfg
}

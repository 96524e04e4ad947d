package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAuthorityFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authorities.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write authority file: %v", err)
	}
	return path
}

func TestLoadAuthorityFile(t *testing.T) {
	path := writeAuthorityFile(t, `primary: https://tsa-primary.example/ts
fallbacks:
  - https://tsa-a.example/ts
  - https://tsa-b.example/ts
`)
	file, err := LoadAuthorityFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if file.Primary != "https://tsa-primary.example/ts" {
		t.Fatalf("primary = %s", file.Primary)
	}
	if len(file.Fallbacks) != 2 || file.Fallbacks[1] != "https://tsa-b.example/ts" {
		t.Fatalf("fallbacks = %v", file.Fallbacks)
	}
}

func TestLoadAuthorityFileMissingPrimary(t *testing.T) {
	path := writeAuthorityFile(t, "fallbacks:\n  - https://tsa-a.example/ts\n")
	if _, err := LoadAuthorityFile(path); err == nil {
		t.Fatal("file without primary accepted")
	}
}

func TestLoadAuthorityFileUnreadable(t *testing.T) {
	if _, err := LoadAuthorityFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestTSAEndpointsPreferFile(t *testing.T) {
	path := writeAuthorityFile(t, "primary: https://from-file.example/ts\n")
	cfg := Config{
		TSAPrimaryURL:      "https://from-env.example/ts",
		TSAFallbackURLs:    []string{"https://env-fallback.example/ts"},
		TSAAuthoritiesFile: path,
	}
	primary, fallbacks, err := cfg.TSAEndpoints()
	if err != nil {
		t.Fatalf("endpoints: %v", err)
	}
	if primary != "https://from-file.example/ts" || len(fallbacks) != 0 {
		t.Fatalf("endpoints = (%s, %v)", primary, fallbacks)
	}
}

func TestTSAEndpointsFromEnvSettings(t *testing.T) {
	cfg := Config{
		TSAPrimaryURL:   "https://from-env.example/ts",
		TSAFallbackURLs: []string{"https://env-fallback.example/ts"},
	}
	primary, fallbacks, err := cfg.TSAEndpoints()
	if err != nil {
		t.Fatalf("endpoints: %v", err)
	}
	if primary != "https://from-env.example/ts" || len(fallbacks) != 1 {
		t.Fatalf("endpoints = (%s, %v)", primary, fallbacks)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %s", cfg.HTTPAddr)
	}
	if cfg.DefaultProvider != "soft" {
		t.Fatalf("default provider = %s", cfg.DefaultProvider)
	}
	if cfg.BatchMaxConcurrency != 4 || cfg.BatchRetryBudget != 2 {
		t.Fatalf("batch defaults = (%d, %d)", cfg.BatchMaxConcurrency, cfg.BatchRetryBudget)
	}
	if cfg.TemporalTaskQueue != "signtusk-batches" {
		t.Fatalf("task queue = %s", cfg.TemporalTaskQueue)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" https://a.example , ,https://b.example,")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitCSV = %v", got)
	}
	if splitCSV("") != nil {
		t.Fatal("empty input produced a slice")
	}
}

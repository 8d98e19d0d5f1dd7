package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elemflow.yaml")
	if err := os.WriteFile(path, []byte("format: json\nlog_level: debug\ndir: /data\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ELEMFLOW_DIR", "/override")
	t.Setenv("ELEMFLOW_OVERWRITE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Format != "json" || cfg.LogLevel != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Dir != "/override" || !cfg.Overwrite {
		t.Errorf("env values not applied: %+v", cfg)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want default text", cfg.LogFormat)
	}
}

func TestApplyEnv_BadBool(t *testing.T) {
	t.Setenv("ELEMFLOW_OVERWRITE", "maybe")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected error")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	cfg.Format = "zarr"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zarr format")
	}
	cfg = DefaultConfig()
	cfg.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for xml log format")
	}
}

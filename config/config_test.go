package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odbcquery.yaml")
	data := []byte("backend: sqlhost\nworkers: 3\nlogLevel: debug\nconnectionString: \"Driver=SQLite3;Database=:memory:\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendSQLHost || cfg.Workers != 3 || cfg.ConnectionString != "Driver=SQLite3;Database=:memory:" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.Pooling || cfg.LogFormat != LogFormatText {
		t.Errorf("expected unset keys to keep defaults, got %+v", cfg)
	}
	if level, _ := cfg.Level(); level != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", level)
	}
}

func TestLoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Load(path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("load or default: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Backend = "jdbc" }},
		{"workers", func(c *Config) { c.Workers = -1 }},
		{"queueDepth", func(c *Config) { c.QueueDepth = -5 }},
		{"logLevel", func(c *Config) { c.LogLevel = "loud" }},
		{"logFormat", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected %s to be rejected", tt.name)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("expected defaults to be valid: %v", err)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("backend: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOrDefault(path); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected a parse error, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "odbcquery.yaml")
	cfg := Default()
	cfg.Backend = BackendSQLHost
	cfg.Library = "/opt/odbc/lib/libodbc.so.2"
	cfg.QueueDepth = 64

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != cfg {
		t.Errorf("expected %+v, got %+v", cfg, got)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AUTOMONTAGE_CONFIG", filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registration.MinInliers != 10 || cfg.Registration.AutoAccept != 50 || cfg.Registration.NomThresh != 7.0 {
		t.Fatalf("unexpected defaults %+v", cfg.Registration)
	}
	if err := cfg.Params().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
}

func TestLoadOverridesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"registration":{"min_inliers":15,"auto_accept":60},"server":{"addr":":9000"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTOMONTAGE_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registration.MinInliers != 15 || cfg.Server.Addr != ":9000" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Registration.RansacIterations != 1000 {
		t.Fatalf("untouched fields should keep defaults, got %d", cfg.Registration.RansacIterations)
	}
}

func TestLoadRejectsInvalidThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"registration":{"nom_thresh":-1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTOMONTAGE_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandUser("~/x/y.json")
	if err != nil || got != filepath.Join(home, "x", "y.json") {
		t.Fatalf("expandUser: %q %v", got, err)
	}
	if got, _ := expandUser("/abs"); got != "/abs" {
		t.Fatalf("absolute path changed: %q", got)
	}
}

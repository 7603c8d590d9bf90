package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RANGEMARK_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Compliance.WindowDays != 30 || cfg.Compliance.FirearmLimit != 5 {
		t.Fatalf("unexpected compliance defaults: %+v", cfg.Compliance)
	}
	if !cfg.Compliance.MultiFirearmHoldEnabled || !cfg.Compliance.FFLHoldEnabled {
		t.Fatal("hold toggles should default on")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  addr: ":9000"
compliance:
  window_days: 14
  firearm_limit: 3
  multi_firearm_hold_enabled: true
  ffl_hold_enabled: true
gateway:
  base_url: "https://pay.example.test"
  max_attempts: 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RANGEMARK_FIREARM_LIMIT", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("file value not applied: %s", cfg.Server.Addr)
	}
	if cfg.Compliance.WindowDays != 14 {
		t.Fatalf("unexpected window: %d", cfg.Compliance.WindowDays)
	}
	if cfg.Compliance.FirearmLimit != 7 {
		t.Fatalf("env override not applied: %d", cfg.Compliance.FirearmLimit)
	}
	if cfg.Gateway.MaxAttempts != 2 {
		t.Fatalf("unexpected attempts: %d", cfg.Gateway.MaxAttempts)
	}
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	t.Setenv("RANGEMARK_CONFIG", "")
	t.Setenv("RANGEMARK_WINDOW_DAYS", "0")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for window_days=0")
	}
}

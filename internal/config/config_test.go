package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	content := `
server:
  port: "9090"

storage:
  database_path: "./data/test.db"

fees:
  platform_bps: 300
  creator_bps: 50
  platform_recipient: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

dispute:
  contest_window: 2h
  arbiters:
    - arbiter-1
    - arbiter-2

settlement:
  confirm_timeout: 90s

logging:
  level: "debug"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Fees.PlatformBps != 300 || cfg.Fees.CreatorBps != 50 {
		t.Errorf("Expected fees 300/50, got %d/%d", cfg.Fees.PlatformBps, cfg.Fees.CreatorBps)
	}
	if cfg.Dispute.ContestWindow != 2*time.Hour {
		t.Errorf("Expected contest window 2h, got %v", cfg.Dispute.ContestWindow)
	}
	if len(cfg.Dispute.Arbiters) != 2 {
		t.Errorf("Expected 2 arbiters, got %d", len(cfg.Dispute.Arbiters))
	}
	if cfg.Settlement.ConfirmTimeout != 90*time.Second {
		t.Errorf("Expected confirm timeout 90s, got %v", cfg.Settlement.ConfirmTimeout)
	}
	// Defaults survive partial files
	if cfg.Settlement.Confirmations != 1 {
		t.Errorf("Expected default confirmations 1, got %d", cfg.Settlement.Confirmations)
	}
	if cfg.Fees.UnitsPerUSD != 100 {
		t.Errorf("Expected default units_per_usd 100, got %d", cfg.Fees.UnitsPerUSD)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Settlement.ConfirmTimeout != 180*time.Second {
		t.Errorf("Expected default confirm timeout 180s, got %v", cfg.Settlement.ConfirmTimeout)
	}
	if cfg.Dispute.ContestWindow != 24*time.Hour {
		t.Errorf("Expected default contest window 24h, got %v", cfg.Dispute.ContestWindow)
	}
}

func TestLegacyEnvNames(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DISPUTE_DELAY_MINUTES", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("Expected port from PORT, got %s", cfg.Server.Port)
	}
	if cfg.Dispute.ContestWindow != 5*time.Minute {
		t.Errorf("Expected contest window of 5 minutes, got %v", cfg.Dispute.ContestWindow)
	}
}

func TestValidateErrors(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fees over 100%", func(c *Config) { c.Fees.PlatformBps = 9000; c.Fees.CreatorBps = 1001 }},
		{"negative fee", func(c *Config) { c.Fees.CreatorBps = -1 }},
		{"zero contest window", func(c *Config) { c.Dispute.ContestWindow = 0 }},
		{"zero confirm timeout", func(c *Config) { c.Settlement.ConfirmTimeout = 0 }},
		{"auto submit without signer", func(c *Config) { c.Settlement.AutoSubmit = true }},
		{"signer without program", func(c *Config) { c.Ledger.SignerKeyBase58 = "abc" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

package config_test

import (
	"testing"
	"time"

	"github.com/bcnelson/aws-org-manager/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Expected default addr 0.0.0.0:8080, got %s", cfg.Server.Addr())
	}
	if cfg.Reconcile.AutoReconcile {
		t.Error("Expected auto reconcile to be off by default")
	}
	if cfg.Provisioning.MaxPolls != 30 || cfg.Provisioning.PollInterval != 10*time.Second {
		t.Errorf("unexpected provisioning defaults: %+v", cfg.Provisioning)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ORG_FILE_SHIM", "/tmp/org.json")
	t.Setenv("SPEC_FILE", "org.yaml")
	t.Setenv("AUTO_RECONCILE", "true")
	t.Setenv("RECONCILE_DEBOUNCE", "1m")
	t.Setenv("PROVISION_SUBMIT_ATTEMPTS", "3")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.UseFileShim() {
		t.Error("Expected file shim to be used")
	}
	if cfg.Reconcile.Debounce != time.Minute {
		t.Errorf("Expected debounce 1m, got %s", cfg.Reconcile.Debounce)
	}
	if got := cfg.ProvisionerConfig().SubmitAttempts; got != 3 {
		t.Errorf("Expected 3 submit attempts, got %d", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"auto reconcile without spec file", func(c *config.Config) { c.Reconcile.AutoReconcile = true }},
		{"zero rate", func(c *config.Config) { c.AWS.Rate = 0 }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"bad driver", func(c *config.Config) { c.Database.Driver = "mysql" }},
		{"zero polls", func(c *config.Config) { c.Provisioning.MaxPolls = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

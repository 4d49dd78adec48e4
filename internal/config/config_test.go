package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

func TestLoadFromPath_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Budget.Ceiling != 1_000_000 {
		t.Errorf("Budget.Ceiling = %d, want 1000000", cfg.Budget.Ceiling)
	}
	if cfg.Budget.WarningThreshold != 0.80 {
		t.Errorf("Budget.WarningThreshold = %v, want 0.80", cfg.Budget.WarningThreshold)
	}
	if cfg.Dispatcher.Concurrency != 4 {
		t.Errorf("Dispatcher.Concurrency = %d, want 4", cfg.Dispatcher.Concurrency)
	}
	if cfg.Dispatcher.ToolTimeout != 5*time.Second {
		t.Errorf("Dispatcher.ToolTimeout = %v, want 5s", cfg.Dispatcher.ToolTimeout)
	}
	if cfg.Approval.Retention != time.Hour {
		t.Errorf("Approval.Retention = %v, want 1h", cfg.Approval.Retention)
	}
	if cfg.Queue.PollInterval != 5*time.Second {
		t.Errorf("Queue.PollInterval = %v, want 5s", cfg.Queue.PollInterval)
	}
	if cfg.History.KeepRecent != 10 {
		t.Errorf("History.KeepRecent = %d, want 10", cfg.History.KeepRecent)
	}
	if cfg.Output.MaxChars != 5000 {
		t.Errorf("Output.MaxChars = %d, want 5000", cfg.Output.MaxChars)
	}
}

func TestLoadFromPath_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
budget:
  ceiling: 200000
  warning_threshold: 0.85
dispatcher:
  concurrency: 8
phases:
  execute:
    timeout: 30s
    max_retries: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Budget.Ceiling != 200_000 {
		t.Errorf("Budget.Ceiling = %d, want 200000", cfg.Budget.Ceiling)
	}
	if cfg.Budget.WarningThreshold != 0.85 {
		t.Errorf("Budget.WarningThreshold = %v, want 0.85", cfg.Budget.WarningThreshold)
	}
	if cfg.Dispatcher.Concurrency != 8 {
		t.Errorf("Dispatcher.Concurrency = %d, want 8", cfg.Dispatcher.Concurrency)
	}
	if cfg.Phases.Execute.Timeout != 30*time.Second {
		t.Errorf("Phases.Execute.Timeout = %v, want 30s", cfg.Phases.Execute.Timeout)
	}
	if cfg.Phases.Execute.MaxRetries != 5 {
		t.Errorf("Phases.Execute.MaxRetries = %d, want 5", cfg.Phases.Execute.MaxRetries)
	}
	// Untouched phases keep defaults.
	if cfg.Phases.Verify.MaxRetries != 0 {
		t.Errorf("Phases.Verify.MaxRetries = %d, want 0", cfg.Phases.Verify.MaxRetries)
	}
}

func TestPhasesConfig_For(t *testing.T) {
	cfg := PhasesConfig{
		Assess:  PhaseConfig{Timeout: 5 * time.Second, MaxRetries: 1},
		Plan:    PhaseConfig{Timeout: 8 * time.Second, MaxRetries: 1},
		Execute: PhaseConfig{Timeout: 15 * time.Second, MaxRetries: 2},
		Test:    PhaseConfig{Timeout: 10 * time.Second, MaxRetries: 1},
		Verify:  PhaseConfig{Timeout: 5 * time.Second, MaxRetries: 0},
	}

	tests := []struct {
		name        string
		phase       models.Phase
		wantTimeout time.Duration
		wantRetries int
	}{
		{"assess budget", models.PhaseAssess, 5 * time.Second, 1},
		{"plan budget", models.PhasePlan, 8 * time.Second, 1},
		{"execute budget", models.PhaseExecute, 15 * time.Second, 2},
		{"test budget", models.PhaseTest, 10 * time.Second, 1},
		{"verify budget", models.PhaseVerify, 5 * time.Second, 0},
		{"unknown falls back to execute", models.Phase("mystery"), 15 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.For(tt.phase)
			if got.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", got.Timeout, tt.wantTimeout)
			}
			if got.MaxRetries != tt.wantRetries {
				t.Errorf("MaxRetries = %d, want %d", got.MaxRetries, tt.wantRetries)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("RUDDER_TEST_KEY", "sk-test-123")

	if got := expandEnv("${RUDDER_TEST_KEY}"); got != "sk-test-123" {
		t.Errorf("expandEnv() = %q, want %q", got, "sk-test-123")
	}
	if got := expandEnv("literal"); got != "literal" {
		t.Errorf("expandEnv() = %q, want %q", got, "literal")
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Budget.Ceiling != 1_000_000 {
		t.Errorf("Budget.Ceiling = %d, want 1000000", cfg.Budget.Ceiling)
	}
	if cfg.Dispatcher.ToolTimeout != 5*time.Second {
		t.Errorf("Dispatcher.ToolTimeout = %v, want 5s", cfg.Dispatcher.ToolTimeout)
	}
	if cfg.Approval.Retention != time.Hour {
		t.Errorf("Approval.Retention = %v, want 1h", cfg.Approval.Retention)
	}
}

func TestWriteDefault_RefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("budget:\n  ceiling: 42\n"), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if err := WriteDefault(path); err == nil {
		t.Fatal("expected error for existing config file")
	}
}

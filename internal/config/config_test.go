package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/handover-simulator/internal/sim/handover"
	"github.com/signalsfoundry/handover-simulator/model"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() must validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Run)
		wantSub string
	}{
		{"bad protocol", func(c *Run) { c.Protocol = "quantum-magic" }, "protocol"},
		{"zero users", func(c *Run) { c.NumUsers = 0 }, "num_users"},
		{"negative margin", func(c *Run) { c.LeadTimeMargin = -time.Second }, "lead_time_margin"},
		{"zero duration", func(c *Run) { c.SimulationDuration = 0 }, "simulation_duration"},
		{"unknown kem", func(c *Run) { c.KEMAlgorithm = "RSA-2048" }, "kem_algorithm"},
		{"zero sample step", func(c *Run) { c.SampleStep = 0 }, "sample_step"},
		{"bad lead policy", func(c *Run) { c.LeadTimePolicy = "psychic" }, "lead_time_policy"},
		{"bad reselect policy", func(c *Run) { c.ReselectPolicy = "flip-coin" }, "reselect_policy"},
		{"failure prob one", func(c *Run) { c.ExchangeFailureProb = 1 }, "exchange_failure_prob"},
		{"failure prob negative", func(c *Run) { c.ExchangeFailureProb = -0.1 }, "exchange_failure_prob"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() accepted an invalid configuration")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestValidateAcceptsKyberAlias(t *testing.T) {
	cfg := Default()
	cfg.KEMAlgorithm = "Kyber768"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Kyber alias rejected: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	yaml := `
protocol: baseline
num_users: 3
lead_time_margin: 7s
simulation_duration: 30m
exchange_failure_prob: 0.05
reselect_policy: recheck
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Protocol != model.ProtocolBaseline {
		t.Errorf("protocol = %q", cfg.Protocol)
	}
	if cfg.NumUsers != 3 {
		t.Errorf("num_users = %d", cfg.NumUsers)
	}
	if cfg.LeadTimeMargin != 7*time.Second {
		t.Errorf("lead_time_margin = %s", cfg.LeadTimeMargin)
	}
	if cfg.SimulationDuration != 30*time.Minute {
		t.Errorf("simulation_duration = %s", cfg.SimulationDuration)
	}
	if cfg.ReselectPolicy != handover.ReselectRecheck {
		t.Errorf("reselect_policy = %q", cfg.ReselectPolicy)
	}
	// Untouched fields keep their defaults.
	if cfg.KEMAlgorithm != "ML-KEM-768" {
		t.Errorf("kem_algorithm = %q, want the default", cfg.KEMAlgorithm)
	}
	if cfg.RetryInterval != 30*time.Second {
		t.Errorf("retry_interval = %s, want the default", cfg.RetryInterval)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("num_users: -2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load must reject num_users: -2")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load must fail on a missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte(":\n\t- not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("Load must fail on malformed YAML")
	}
}

func TestProjections(t *testing.T) {
	cfg := Default()
	cfg.LeadTimeMargin = 12 * time.Second
	cfg.SwitchDelay = 300 * time.Millisecond
	cfg.RandomSeed = 99
	cfg.LinkMbps = 2.5
	cfg.ExchangeFailureProb = 0.2

	h := cfg.HandoverConfig()
	if h.LeadTimeMargin != 12*time.Second || h.SwitchDelay != 300*time.Millisecond {
		t.Errorf("HandoverConfig = %+v", h)
	}
	if h.Algorithm != cfg.KEMAlgorithm {
		t.Errorf("algorithm = %q, want %q", h.Algorithm, cfg.KEMAlgorithm)
	}

	cm := cfg.CostModelConfig()
	if cm.Seed != 99 || cm.LinkMbps != 2.5 || cm.FailureProb != 0.2 {
		t.Errorf("CostModelConfig = %+v", cm)
	}
}

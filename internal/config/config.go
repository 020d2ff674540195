// Package config defines the immutable run configuration. It is
// constructed once per run and passed by reference into the scheduler,
// oracle, and state machines; there is no process-wide mutable state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/handover-simulator/internal/kem"
	"github.com/signalsfoundry/handover-simulator/internal/sim/handover"
	"github.com/signalsfoundry/handover-simulator/model"
)

// Run is one simulation run's configuration.
type Run struct {
	Protocol           model.Protocol `yaml:"protocol"`
	NumUsers           int            `yaml:"num_users"`
	LeadTimeMargin     time.Duration  `yaml:"lead_time_margin"`
	KEMAlgorithm       string         `yaml:"kem_algorithm"`
	RandomSeed         int64          `yaml:"random_seed"`
	SimulationDuration time.Duration  `yaml:"simulation_duration"`

	// StartTime is the simulated epoch. TLE-driven scenarios should pick
	// an epoch near the element set's.
	StartTime time.Time `yaml:"start_time"`

	// Geometry knobs.
	MinElevationDeg float64       `yaml:"min_elevation_deg"`
	SampleStep      time.Duration `yaml:"sample_step"`

	// Protocol knobs.
	SwitchDelay    time.Duration           `yaml:"switch_delay"`
	RetryInterval  time.Duration           `yaml:"retry_interval"`
	LeadTimePolicy handover.LeadTimePolicy `yaml:"lead_time_policy"`
	ReselectPolicy handover.ReselectPolicy `yaml:"reselect_policy"`

	// Exchange cost model knobs.
	ExchangeFailureProb float64 `yaml:"exchange_failure_prob"`
	JitterFrac          float64 `yaml:"jitter_frac"`
	LinkMbps            float64 `yaml:"link_mbps"`

	// External wiring.
	ScenarioPath string `yaml:"scenario"`
	OutputPath   string `yaml:"output"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// Default returns the baseline configuration every run starts from.
func Default() Run {
	return Run{
		Protocol:           model.ProtocolSATPQH,
		NumUsers:           10,
		LeadTimeMargin:     15 * time.Second,
		KEMAlgorithm:       "ML-KEM-768",
		RandomSeed:         1,
		SimulationDuration: time.Hour,
		StartTime:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MinElevationDeg:    10.0,
		SampleStep:         5 * time.Second,
		SwitchDelay:        0,
		RetryInterval:      30 * time.Second,
		LeadTimePolicy:     handover.LeadTimeFixed,
		ReselectPolicy:     handover.ReselectStick,
		LinkMbps:           10.0,
	}
}

// Load reads a YAML run configuration over the defaults and validates it.
func Load(path string) (Run, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Run{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	return cfg, nil
}

// Validate checks the configuration before any simulated time advances.
// Errors here are fatal at startup; no partial output is produced.
func (c Run) Validate() error {
	if !c.Protocol.Valid() {
		return fmt.Errorf("unknown protocol %q (want %q or %q)",
			c.Protocol, model.ProtocolBaseline, model.ProtocolSATPQH)
	}
	if c.NumUsers <= 0 {
		return fmt.Errorf("num_users must be > 0, got %d", c.NumUsers)
	}
	if c.LeadTimeMargin < 0 {
		return fmt.Errorf("lead_time_margin must be >= 0, got %s", c.LeadTimeMargin)
	}
	if c.SimulationDuration <= 0 {
		return fmt.Errorf("simulation_duration must be > 0, got %s", c.SimulationDuration)
	}
	if _, ok := kem.LookupProfile(c.KEMAlgorithm); !ok {
		return fmt.Errorf("unknown kem_algorithm %q (known: %v)", c.KEMAlgorithm, kem.Algorithms())
	}
	if c.SampleStep <= 0 {
		return fmt.Errorf("sample_step must be > 0, got %s", c.SampleStep)
	}
	switch c.LeadTimePolicy {
	case handover.LeadTimeFixed, handover.LeadTimeAdaptive:
	default:
		return fmt.Errorf("unknown lead_time_policy %q", c.LeadTimePolicy)
	}
	switch c.ReselectPolicy {
	case handover.ReselectStick, handover.ReselectRecheck:
	default:
		return fmt.Errorf("unknown reselect_policy %q", c.ReselectPolicy)
	}
	if c.ExchangeFailureProb < 0 || c.ExchangeFailureProb >= 1 {
		return fmt.Errorf("exchange_failure_prob must be in [0,1), got %g", c.ExchangeFailureProb)
	}
	return nil
}

// HandoverConfig projects the run configuration onto the per-machine
// protocol knobs.
func (c Run) HandoverConfig() handover.Config {
	return handover.Config{
		Algorithm:      c.KEMAlgorithm,
		LeadTimeMargin: c.LeadTimeMargin,
		SwitchDelay:    c.SwitchDelay,
		RetryInterval:  c.RetryInterval,
		LeadTimePolicy: c.LeadTimePolicy,
		ReselectPolicy: c.ReselectPolicy,
	}
}

// CostModelConfig projects the run configuration onto the exchanger.
func (c Run) CostModelConfig() kem.CostModelConfig {
	return kem.CostModelConfig{
		Seed:        c.RandomSeed,
		LinkMbps:    c.LinkMbps,
		JitterFrac:  c.JitterFrac,
		FailureProb: c.ExchangeFailureProb,
	}
}

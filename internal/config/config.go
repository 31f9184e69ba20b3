// Package config provides configuration loading for ecsroll.
// Flags cover the common knobs; the optional YAML file tunes the rest.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Replacement policies for a REPLACE whose substitute never registers.
const (
	// ReplacementPolicyFail marks the instance FAILED once the capacity
	// attempt ceiling is exhausted.
	ReplacementPolicyFail = "fail"
	// ReplacementPolicyWait polls without a ceiling.
	ReplacementPolicyWait = "wait"
)

// Config holds all ecsroll tunables.
type Config struct {
	Wait        WaitConfig        `yaml:"wait"`
	Replacement ReplacementConfig `yaml:"replacement"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// WaitConfig shapes every polling loop. All ceilings are attempt counts,
// not wall-clock durations.
type WaitConfig struct {
	// BaseSeconds is the base wait between poll attempts. Overridden by
	// the --wait flag when set.
	BaseSeconds int `yaml:"baseSeconds"`

	// Factor multiplies the delay per attempt.
	Factor float64 `yaml:"factor"`

	// Jitter is the randomized fraction of each delay.
	Jitter float64 `yaml:"jitter"`

	// DrainMaxAttempts caps drain polling. Draining may legitimately
	// take a long time; this ceiling is the only hard stop.
	DrainMaxAttempts int `yaml:"drainMaxAttempts"`

	// CapacityMaxAttempts caps overflow-growth and downsize polling.
	CapacityMaxAttempts int `yaml:"capacityMaxAttempts"`

	// StatusMaxAttempts caps EC2 status-check and ECS reregistration
	// polling after a reboot.
	StatusMaxAttempts int `yaml:"statusMaxAttempts"`
}

// ReplacementConfig resolves what to do when a REPLACE's substitute
// instance never registers with the cluster.
type ReplacementConfig struct {
	// Policy is "fail" or "wait".
	Policy string `yaml:"policy"`
}

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	// Listen is the address to serve /metrics on for the duration of
	// the run. Empty disables the listener.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Wait: WaitConfig{
			BaseSeconds:         30,
			Factor:              1.5,
			Jitter:              0.2,
			DrainMaxAttempts:    40,
			CapacityMaxAttempts: 20,
			StatusMaxAttempts:   20,
		},
		Replacement: ReplacementConfig{
			Policy: ReplacementPolicyFail,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the run cannot work with.
func (c Config) Validate() error {
	if c.Wait.BaseSeconds <= 0 {
		return fmt.Errorf("wait.baseSeconds must be positive, got %d", c.Wait.BaseSeconds)
	}
	if c.Wait.Factor < 1.0 {
		return fmt.Errorf("wait.factor must be >= 1.0, got %v", c.Wait.Factor)
	}
	if c.Wait.Jitter < 0 || c.Wait.Jitter >= 1 {
		return fmt.Errorf("wait.jitter must be in [0, 1), got %v", c.Wait.Jitter)
	}
	switch c.Replacement.Policy {
	case ReplacementPolicyFail, ReplacementPolicyWait:
	default:
		return fmt.Errorf("replacement.policy must be %q or %q, got %q",
			ReplacementPolicyFail, ReplacementPolicyWait, c.Replacement.Policy)
	}
	return nil
}

// BaseWait returns the base wait as a duration.
func (c Config) BaseWait() time.Duration {
	return time.Duration(c.Wait.BaseSeconds) * time.Second
}

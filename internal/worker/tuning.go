package worker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TuningConfig is an optional YAML override for RetryPolicy, read
// alongside the rest of the fabric's env-var configuration. Grounded on
// the pack's static-tuning-file pattern (itsneelabh-gomind,
// theRebelliousNerd-codenerd both load worker/agent tuning knobs from
// YAML rather than baking them into code).
type TuningConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	MaxDelaySeconds int `yaml:"max_delay_seconds"`
}

// LoadRetryPolicy reads path as YAML and overrides whichever
// DefaultRetryPolicy fields the file sets. An empty path, or a path that
// doesn't exist, returns the default unchanged — the tuning file is
// optional, not required deployment config.
func LoadRetryPolicy(path string) (RetryPolicy, error) {
	policy := DefaultRetryPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return policy, nil
	}
	if err != nil {
		return RetryPolicy{}, fmt.Errorf("worker: read tuning config %s: %w", path, err)
	}

	var cfg TuningConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return RetryPolicy{}, fmt.Errorf("worker: parse tuning config %s: %w", path, err)
	}

	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MaxDelaySeconds > 0 {
		policy.MaxDelay = time.Duration(cfg.MaxDelaySeconds) * time.Second
	}
	return policy, nil
}

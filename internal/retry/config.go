package retry

import "time"

// Config bounds how often a failed delivery key is re-attempted across runs.
// There is no retry loop inside a run; a failed key simply becomes eligible
// again once its backoff window has elapsed.
type Config struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	JitterFactor      float64       `yaml:"jitter_factor"` // 0.0-1.0, percentage of jitter to add
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:       10,
		InitialBackoff:    1 * time.Minute,
		MaxBackoff:        6 * time.Hour,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.2,
	}
}

package dispatch

import (
	"fmt"
	"time"
)

type Config struct {
	// Workers bounds the number of concurrent delivery tasks in a run.
	Workers int `yaml:"workers"`
	// ClaimTTL is how long a claim protects a key before another run may
	// take it over. A task sends for at most ClaimTTL minus one SendTimeout
	// and records its result in the remainder.
	ClaimTTL time.Duration `yaml:"claim_ttl"`
	// RunTimeout stops scheduling new tasks; zero means no deadline.
	RunTimeout time.Duration `yaml:"run_timeout"`
	// SendTimeout bounds every store and channel call of a task.
	SendTimeout time.Duration `yaml:"send_timeout"`
	// FetchLimit caps the ledger snapshot; zero fetches everything.
	FetchLimit int `yaml:"fetch_limit"`
}

func DefaultConfig() Config {
	return Config{
		Workers:     8,
		ClaimTTL:    5 * time.Minute,
		RunTimeout:  10 * time.Minute,
		SendTimeout: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive")
	}
	// Claim, at least one full send and the result write must fit.
	if c.ClaimTTL <= 3*c.SendTimeout {
		return fmt.Errorf("claim_ttl (%s) must exceed three send_timeouts (%s)", c.ClaimTTL, 3*c.SendTimeout)
	}
	if c.RunTimeout < 0 || c.FetchLimit < 0 {
		return fmt.Errorf("run_timeout and fetch_limit must not be negative")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Load builds the configuration from the environment.
// All variables are optional except ORCHESTRATOR_SECRET.
func Load() (*Config, error) {
	cfg := &Config{}

	groups := []any{
		&cfg.Server,
		&cfg.Paths,
		&cfg.Queue,
		&cfg.Agent,
		&cfg.Approval,
		&cfg.History,
		&cfg.Timeline,
		&cfg.Kafka,
		&cfg.Slack,
	}
	for _, g := range groups {
		if err := envconfig.Process("", g); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and limit sanity.
func (c *Config) Validate() error {
	if c.Server.Secret == "" {
		return fmt.Errorf("config: ORCHESTRATOR_SECRET is required")
	}
	if c.Queue.MaxConcurrentRepos < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_REPOS must be >= 1")
	}
	if c.Queue.MaxQueueSize < 1 {
		return fmt.Errorf("config: MAX_QUEUE_SIZE must be >= 1")
	}
	if c.Queue.MaxTasksPerUser < 1 {
		return fmt.Errorf("config: MAX_TASKS_PER_USER must be >= 1")
	}
	if c.Queue.MaxConcurrentSessions < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_SESSIONS must be >= 1")
	}
	return nil
}

// EnsureWorkingDirectory creates the base working directory if missing and
// returns its absolute path.
func (c *Config) EnsureWorkingDirectory() (string, error) {
	abs, err := filepath.Abs(c.Paths.WorkingDirectory)
	if err != nil {
		return "", fmt.Errorf("config: resolve working directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("config: create working directory: %w", err)
	}
	c.Paths.WorkingDirectory = abs
	return abs, nil
}

package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the periodic task runner.
type Config struct {
	// TaskTimeout is the maximum time a single task run is allowed to take.
	// Default: 2 minutes
	TaskTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for running tasks to return.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// MinInterval is the shortest schedule a task may register with.
	// Default: 1 second
	MinInterval time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		TaskTimeout:     2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MinInterval:     time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.TaskTimeout < time.Second {
		return fmt.Errorf("task timeout must be at least 1 second, got %v", c.TaskTimeout)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	if c.MinInterval <= 0 {
		return fmt.Errorf("min interval must be positive, got %v", c.MinInterval)
	}
	return nil
}

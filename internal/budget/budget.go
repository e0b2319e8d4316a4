package budget

import (
	"fmt"
	"time"
)

// DefaultMaxSteps bounds the search/expand loop when no budget is given.
const DefaultMaxSteps = 15

// Config defines the guardrails of a single task.
type Config struct {
	// MaxSteps caps executing/expanding loop iterations.
	MaxSteps int
	// MaxTokens optionally caps model tokens; exceeding it ends the loop early.
	MaxTokens *int64
	// Timeout is the optional wall-clock budget of the whole task.
	Timeout time.Duration
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps cannot be negative")
	}
	if c.MaxTokens != nil && *c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	clone := Config{MaxSteps: c.MaxSteps, Timeout: c.Timeout}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	return clone
}

// Merge overlays the set values of override onto base.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxSteps > 0 {
		result.MaxSteps = override.MaxSteps
	}
	if override.MaxTokens != nil {
		v := *override.MaxTokens
		result.MaxTokens = &v
	}
	if override.Timeout > 0 {
		result.Timeout = override.Timeout
	}
	return result
}

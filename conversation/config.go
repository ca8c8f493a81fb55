package conversation

import (
	"fmt"
	"time"
)

const (
	DefaultMaxSteps  = 100
	DefaultMaxErrors = 10

	// DefaultOpeningMessage is the canned first agent turn of a fresh, non-solo conversation.
	DefaultOpeningMessage = "Hi! How can I help you today?"
)

// Config holds the per-run budgets and knobs of an Orchestrator.
type Config struct {
	MaxSteps       int
	MaxErrors      int
	Seed           *int64
	SoloMode       bool
	OpeningMessage string
	// Now stamps messages that arrive without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MaxSteps:       DefaultMaxSteps,
		MaxErrors:      DefaultMaxErrors,
		OpeningMessage: DefaultOpeningMessage,
		Now:            time.Now,
	}
}

func (c Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("%w: field=max_steps reason=non_positive value=%d", ErrConfigInvalid, c.MaxSteps)
	}
	if c.MaxErrors <= 0 {
		return fmt.Errorf("%w: field=max_errors reason=non_positive value=%d", ErrConfigInvalid, c.MaxErrors)
	}
	if !c.SoloMode && c.OpeningMessage == "" {
		return fmt.Errorf("%w: field=opening_message reason=empty", ErrConfigInvalid)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.OpeningMessage == "" && !c.SoloMode {
		c.OpeningMessage = DefaultOpeningMessage
	}
	return c
}

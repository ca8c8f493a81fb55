package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Gurpartap/convosim/conversation"
)

const (
	defaultLogFormat     = LogFormatText
	defaultLogLevel      = slog.LevelInfo
	defaultConcurrency   = 4
	defaultTrials        = 1
	defaultRetryAttempts = 1
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config controls a convosim batch invocation.
type Config struct {
	LogFormat     LogFormat
	LogLevel      slog.Level
	Concurrency   int
	Trials        int
	MaxSteps      int
	MaxErrors     int
	Seed          *int64
	RetryAttempts int

	// PartyRetryAttempts bounds retries of a single agent or user turn.
	PartyRetryAttempts int
	ScenarioPath       string
	OutputPath         string
}

// Load reads configuration from CONVOSIM_* environment variables.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if level := strings.TrimSpace(getenv("CONVOSIM_LOG_LEVEL")); level != "" {
		parsed, err := parseLogLevel(level)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = parsed
	}
	if format := strings.TrimSpace(getenv("CONVOSIM_LOG_FORMAT")); format != "" {
		parsed, err := parseLogFormat(format)
		if err != nil {
			return Config{}, err
		}
		cfg.LogFormat = parsed
	}

	ints := []struct {
		name   string
		target *int
	}{
		{name: "CONVOSIM_CONCURRENCY", target: &cfg.Concurrency},
		{name: "CONVOSIM_TRIALS", target: &cfg.Trials},
		{name: "CONVOSIM_MAX_STEPS", target: &cfg.MaxSteps},
		{name: "CONVOSIM_MAX_ERRORS", target: &cfg.MaxErrors},
		{name: "CONVOSIM_RETRY_ATTEMPTS", target: &cfg.RetryAttempts},
		{name: "CONVOSIM_PARTY_RETRY_ATTEMPTS", target: &cfg.PartyRetryAttempts},
	}
	for _, field := range ints {
		raw := strings.TrimSpace(getenv(field.name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", field.name, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("parse %s: value must be > 0", field.name)
		}
		*field.target = parsed
	}

	if seed := strings.TrimSpace(getenv("CONVOSIM_SEED")); seed != "" {
		parsed, err := strconv.ParseInt(seed, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse CONVOSIM_SEED: %w", err)
		}
		cfg.Seed = &parsed
	}
	if path := strings.TrimSpace(getenv("CONVOSIM_SCENARIO")); path != "" {
		cfg.ScenarioPath = path
	}
	if path := strings.TrimSpace(getenv("CONVOSIM_OUTPUT")); path != "" {
		cfg.OutputPath = path
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Default() Config {
	return Config{
		LogFormat:          defaultLogFormat,
		LogLevel:           defaultLogLevel,
		Concurrency:        defaultConcurrency,
		Trials:             defaultTrials,
		MaxSteps:           conversation.DefaultMaxSteps,
		MaxErrors:          conversation.DefaultMaxErrors,
		RetryAttempts:      defaultRetryAttempts,
		PartyRetryAttempts: defaultRetryAttempts,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ScenarioPath) == "" {
		return errors.New("validate config: CONVOSIM_SCENARIO is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("validate config: CONVOSIM_CONCURRENCY must be > 0")
	}
	if c.Trials <= 0 {
		return errors.New("validate config: CONVOSIM_TRIALS must be > 0")
	}
	if c.MaxSteps <= 0 {
		return errors.New("validate config: CONVOSIM_MAX_STEPS must be > 0")
	}
	if c.MaxErrors <= 0 {
		return errors.New("validate config: CONVOSIM_MAX_ERRORS must be > 0")
	}
	if c.RetryAttempts <= 0 {
		return errors.New("validate config: CONVOSIM_RETRY_ATTEMPTS must be > 0")
	}
	if c.PartyRetryAttempts <= 0 {
		return errors.New("validate config: CONVOSIM_PARTY_RETRY_ATTEMPTS must be > 0")
	}

	switch c.LogLevel {
	case slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError:
	default:
		return fmt.Errorf(
			"validate config: unsupported CONVOSIM_LOG_LEVEL %q (allowed: %q, %q, %q, %q)",
			c.LogLevel.String(),
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf(
			"validate config: unsupported CONVOSIM_LOG_FORMAT %q (allowed: %q, %q)",
			c.LogFormat,
			LogFormatText,
			LogFormatJSON,
		)
	}

	return nil
}

// Conversation returns the per-run orchestrator configuration.
func (c Config) Conversation() conversation.Config {
	cfg := conversation.DefaultConfig()
	cfg.MaxSteps = c.MaxSteps
	cfg.MaxErrors = c.MaxErrors
	if c.Seed != nil {
		seed := *c.Seed
		cfg.Seed = &seed
	}
	return cfg
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf(
			"parse CONVOSIM_LOG_LEVEL: unsupported value %q (allowed: %q, %q, %q, %q)",
			input,
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		)
	}
}

func parseLogFormat(input string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf(
			"parse CONVOSIM_LOG_FORMAT: unsupported value %q (allowed: %q, %q)",
			input,
			LogFormatText,
			LogFormatJSON,
		)
	}
}

package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StateDriver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown state_driver %q (want sqlite or postgres)", c.StateDriver)
	}
	if strings.EqualFold(c.StateDriver, "postgres") && c.StateDSN == "" {
		return fmt.Errorf("state_dsn is required when state_driver is postgres")
	}

	switch c.OutputFormat {
	case "", "auto", "text", "markdown", "json":
	default:
		return fmt.Errorf("unknown output format %q (want auto, text, markdown or json)", c.OutputFormat)
	}

	if c.RelowerDelay < 0 {
		return fmt.Errorf("relower_delay must not be negative")
	}
	if c.MinRunTime < 0 {
		return fmt.Errorf("min_run_time must not be negative")
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level selected by log_level, lowered to debug by
// verbose.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel != "" {
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
		}
	} else {
		level = slog.LevelWarn
	}
	if c.Verbose {
		level = slog.LevelDebug
	}
	return level, nil
}

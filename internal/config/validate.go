package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateElevation(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.ModsDir != "" && c.Paths.TargetDir != "" {
		if within(c.Paths.TargetDir, c.Paths.ModsDir) || within(c.Paths.ModsDir, c.Paths.TargetDir) {
			return fmt.Errorf("paths.mods_dir %q and paths.target_dir %q must not contain each other",
				c.Paths.ModsDir, c.Paths.TargetDir)
		}
	}
	return nil
}

func (c *Config) validateElevation() error {
	if c.Elevation.QuitDelayMillis < 0 {
		return errors.New("elevation.quit_delay_ms must not be negative")
	}
	if c.Elevation.TempGraceMillis < 0 {
		return errors.New("elevation.temp_grace_ms must not be negative")
	}
	if c.Elevation.ConnectTimeoutSeconds <= 0 {
		return errors.New("elevation.connect_timeout_seconds must be positive")
	}
	if strings.ContainsAny(c.Elevation.TagFileName, `/\`) {
		return fmt.Errorf("elevation.tag_file_name %q must be a plain file name", c.Elevation.TagFileName)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func within(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

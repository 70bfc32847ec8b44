package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeElevation()
	c.normalizeSupport()
	c.normalizeLogging()
	return c.normalizeMetrics()
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.ModsDir) == "" {
		if value, ok := os.LookupEnv("SYMDEPLOY_MODS_DIR"); ok {
			c.Paths.ModsDir = value
		}
	}
	if strings.TrimSpace(c.Paths.TargetDir) == "" {
		if value, ok := os.LookupEnv("SYMDEPLOY_TARGET_DIR"); ok {
			c.Paths.TargetDir = value
		}
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.Paths.SocketDir) == "" {
		c.Paths.SocketDir = filepath.Join(os.TempDir(), "symdeploy")
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = os.TempDir()
	}

	var err error
	if c.Paths.ModsDir, err = expandPath(strings.TrimSpace(c.Paths.ModsDir)); err != nil {
		return fmt.Errorf("paths.mods_dir: %w", err)
	}
	if c.Paths.TargetDir, err = expandPath(strings.TrimSpace(c.Paths.TargetDir)); err != nil {
		return fmt.Errorf("paths.target_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.SocketDir, err = expandPath(c.Paths.SocketDir); err != nil {
		return fmt.Errorf("paths.socket_dir: %w", err)
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeElevation() {
	if c.Elevation.QuitDelayMillis == 0 {
		c.Elevation.QuitDelayMillis = defaultQuitDelayMillis
	}
	if c.Elevation.TempGraceMillis == 0 {
		c.Elevation.TempGraceMillis = defaultTempGraceMillis
	}
	if c.Elevation.ConnectTimeoutSeconds == 0 {
		c.Elevation.ConnectTimeoutSeconds = defaultConnectTimeoutSeconds
	}
	c.Elevation.TagFileName = strings.TrimSpace(c.Elevation.TagFileName)
	if c.Elevation.TagFileName == "" {
		c.Elevation.TagFileName = defaultTagFileName
	}
}

func (c *Config) normalizeSupport() {
	games := make([]string, 0, len(c.Support.IncompatibleGames))
	seen := make(map[string]struct{}, len(c.Support.IncompatibleGames))
	for _, id := range c.Support.IncompatibleGames {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		games = append(games, id)
	}
	c.Support.IncompatibleGames = games
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeMetrics() error {
	textfile := strings.TrimSpace(c.Metrics.Textfile)
	if textfile == "" {
		c.Metrics.Textfile = ""
		return nil
	}
	expanded, err := expandPath(textfile)
	if err != nil {
		return fmt.Errorf("metrics.textfile: %w", err)
	}
	c.Metrics.Textfile = expanded
	return nil
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ModsDir   string `toml:"mods_dir"`
	TargetDir string `toml:"target_dir"`
	StateDir  string `toml:"state_dir"`
	SocketDir string `toml:"socket_dir"`
	TempDir   string `toml:"temp_dir"`
}

// Elevation contains timing for the elevated helper session.
type Elevation struct {
	// QuitDelayMillis is how long an idle helper is kept alive so bursts of
	// deploy/purge calls share one consent prompt.
	QuitDelayMillis int `toml:"quit_delay_ms"`
	// TempGraceMillis delays removal of the request file so the helper can
	// read it after the OS accepted the elevation.
	TempGraceMillis       int    `toml:"temp_grace_ms"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	TagFileName           string `toml:"tag_file_name"`
}

// Support lists games known to break when their files are symlinks.
type Support struct {
	IncompatibleGames []string `toml:"incompatible_games"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains configuration for Prometheus textfile output.
type Metrics struct {
	Textfile string `toml:"textfile"`
}

// Config encapsulates all configuration values for symdeploy.
//
// Configuration sections by subsystem:
//   - Paths: mod staging, deployment target, state, socket and temp directories
//   - Elevation: helper idle delay, request file grace, connect timeout, tag file
//   - Support: games that cannot be deployed with symlinks
//   - Logging: log format and level
//   - Metrics: optional Prometheus textfile export
type Config struct {
	Paths     Paths     `toml:"paths"`
	Elevation Elevation `toml:"elevation"`
	Support   Support   `toml:"support"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("symdeploy.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories symdeploy writes to. The mods
// and target directories belong to the user and are never created here.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.LogDir(), c.Paths.SocketDir, c.Paths.TempDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LogDir returns the directory holding log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// JournalPath returns the SQLite operation journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockDir returns the directory holding per-target deployment locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// QuitDelay returns the idle period before the helper is told to quit.
func (c *Config) QuitDelay() time.Duration {
	return time.Duration(c.Elevation.QuitDelayMillis) * time.Millisecond
}

// TempGrace returns how long request files survive after launch.
func (c *Config) TempGrace() time.Duration {
	return time.Duration(c.Elevation.TempGraceMillis) * time.Millisecond
}

// ConnectTimeout bounds the wait for the helper's first message.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Elevation.ConnectTimeoutSeconds) * time.Second
}

// GameIncompatible reports whether gameID is listed as unable to use symlinks.
func (c *Config) GameIncompatible(gameID string) bool {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return false
	}
	for _, id := range c.Support.IncompatibleGames {
		if strings.EqualFold(strings.TrimSpace(id), gameID) {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

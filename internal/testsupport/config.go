package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"symdeploy/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ModsDir = filepath.Join(base, "mods")
	cfgVal.Paths.TargetDir = filepath.Join(base, "game")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Paths.SocketDir = SocketDir(t)
	cfgVal.Elevation.QuitDelayMillis = 50
	cfgVal.Elevation.TempGraceMillis = 10
	cfgVal.Elevation.ConnectTimeoutSeconds = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	for _, dir := range []string{builder.cfg.Paths.ModsDir, builder.cfg.Paths.TargetDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithQuitDelay overrides the helper idle delay in milliseconds.
func WithQuitDelay(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Elevation.QuitDelayMillis = ms
	}
}

// WithIncompatibleGames marks the given game ids as unable to use symlinks.
func WithIncompatibleGames(ids ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Support.IncompatibleGames = append(b.cfg.Support.IncompatibleGames, ids...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// SocketDir returns a short-lived directory for unix sockets. t.TempDir paths
// can exceed the sun_path limit on some platforms, so this stays directly
// under the system temp directory.
func SocketDir(t testing.TB) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "sd")
	if err != nil {
		t.Fatalf("mkdir socket dir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"symdeploy/internal/config"
	"symdeploy/internal/consent"
	"symdeploy/internal/deploy"
	"symdeploy/internal/elevation"
	"symdeploy/internal/journal"
	"symdeploy/internal/logging"
	"symdeploy/internal/metrics"
)

type launcherFactory func(cfg *config.Config, logger *slog.Logger) elevation.Launcher

type commandContext struct {
	configFlag string
	assumeYes  bool

	// Overridable for tests.
	newLauncher launcherFactory
	gate        consent.Gate
	platform    string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{
		newLauncher: func(cfg *config.Config, logger *slog.Logger) elevation.Launcher {
			return elevation.NewShellLauncher(cfg.Paths.TempDir, cfg.TempGrace(), logger)
		},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Writer:   cmd.ErrOrStderr(),
		FilePath: filepath.Join(cfg.LogDir(), "symdeploy.log"),
	})
}

func (c *commandContext) consentGate() consent.Gate {
	switch {
	case c.assumeYes:
		return consent.Static(consent.Elevate)
	case c.gate != nil:
		return c.gate
	default:
		return consent.NewTerminal()
	}
}

// deployment bundles what one deploy or purge invocation needs.
type deployment struct {
	cfg      *config.Config
	logger   *slog.Logger
	coord    *deploy.Coordinator
	metrics  *metrics.Metrics
	journal  *journal.Store
	launcher elevation.Launcher
}

func (c *commandContext) openDeployment(cmd *cobra.Command) (*deployment, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger(cmd, cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := journal.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	m := metrics.New()
	launcher := c.newLauncher(cfg, logger)
	opts := []deploy.Option{deploy.WithMetrics(m)}
	if c.platform != "" {
		opts = append(opts, deploy.WithPlatform(c.platform))
	}
	coord := deploy.New(cfg, launcher, c.consentGate(), logger, opts...)

	return &deployment{
		cfg:      cfg,
		logger:   logger,
		coord:    coord,
		metrics:  m,
		journal:  store,
		launcher: launcher,
	}, nil
}

// Close quits the helper, flushes request file removal, exports metrics and
// closes the journal.
func (d *deployment) Close() {
	_ = d.coord.Close()
	if closer, ok := d.launcher.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if err := d.metrics.WriteTextfile(d.cfg.Metrics.Textfile); err != nil {
		logging.WarnWithContext(d.logger, "metrics export failed", "metrics_export_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "textfile collector shows stale values"))
	}
	_ = d.journal.Close()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

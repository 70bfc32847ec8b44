package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"symdeploy/internal/logging"
	"symdeploy/internal/walker"
)

// PurgeLinks removes every symbolic link below dataPath whose target lies
// inside installPath, then finalizes the batch.
func (c *Coordinator) PurgeLinks(ctx context.Context, installPath, dataPath string) (Summary, error) {
	if err := c.Start(ctx); err != nil {
		return Summary{}, err
	}

	install, err := filepath.Abs(installPath)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve install path: %w", err)
	}
	logger := logging.WithContext(ctx, c.logger)

	walkErr := walker.Walk(ctx, dataPath, func(path string, info fs.FileInfo) error {
		if info.Mode()&fs.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(path)
		if err != nil {
			logger.Debug("skipping unreadable link", logging.String("path", path), logging.Error(err))
			return nil
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		if !within(install, target) {
			return nil
		}
		return c.UnlinkFile(ctx, path)
	})

	summary, err := c.Finalize(ctx)
	logger.Info("purge finished",
		logging.Int("removed", summary.Unlinked),
		logging.Int("failed", summary.Failed()))
	if walkErr != nil {
		return summary, errors.Join(fmt.Errorf("walk %s: %w", dataPath, walkErr), err)
	}
	return summary, err
}

// LinkTree links every regular file below sourceRoot to the same relative
// path below targetRoot, then finalizes the batch.
func (c *Coordinator) LinkTree(ctx context.Context, sourceRoot, targetRoot string) (Summary, error) {
	source, err := filepath.Abs(sourceRoot)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve source root: %w", err)
	}
	target, err := filepath.Abs(targetRoot)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve target root: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return Summary{}, err
	}

	walkErr := walker.Walk(ctx, source, func(path string, info fs.FileInfo) error {
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		return c.LinkFile(ctx, path, filepath.Join(target, rel))
	})

	summary, err := c.Finalize(ctx)
	logging.WithContext(ctx, c.logger).Info("deploy finished",
		logging.Int("linked", summary.Linked),
		logging.Int("failed", summary.Failed()))
	if walkErr != nil {
		return summary, errors.Join(fmt.Errorf("walk %s: %w", sourceRoot, walkErr), err)
	}
	return summary, err
}

func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

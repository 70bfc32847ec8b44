package preflight

import (
	"context"

	"symdeploy/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	if cfg.Paths.ModsDir != "" {
		results = append(results, CheckDirectoryAccess("Mods directory", cfg.Paths.ModsDir))
	}
	if cfg.Paths.TargetDir != "" {
		target := CheckDirectoryAccess("Game directory", cfg.Paths.TargetDir)
		results = append(results, target)
		if target.Passed {
			results = append(results, CheckSymlinkCreation(ctx, cfg.Paths.TargetDir))
		}
	}
	results = append(results,
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Socket directory", cfg.Paths.SocketDir),
	)
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

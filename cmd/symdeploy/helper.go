package main

import (
	"context"
	"log/slog"

	"symdeploy/internal/elevation"
	"symdeploy/internal/helper"
	"symdeploy/internal/linkops"
)

// helperRegistry lists the handlers this binary can run when elevated.
func helperRegistry() helper.Registry {
	return helper.Registry{
		elevation.HandlerLinkOperations: func(req *elevation.Request, logger *slog.Logger) (helper.Handler, error) {
			return linkops.FromRequest(req, logger)
		},
	}
}

func runHelper(ctx context.Context, requestPath string) error {
	return helper.RunFile(ctx, requestPath, helperRegistry())
}

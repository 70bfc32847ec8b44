package main

import (
	"errors"
	"fmt"

	"symdeploy/internal/consent"
	"symdeploy/internal/deploy"
	"symdeploy/internal/elevation"
)

// explainError turns coordinator failures into messages that tell the user
// what happened and what to do next. Declining the prompt and running where
// elevation cannot work get distinct wording.
func explainError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, elevation.ErrConsentDeclined):
		return fmt.Errorf("elevation declined; no links were changed: %w", err)
	case errors.Is(err, elevation.ErrUnsupportedPlatform):
		return fmt.Errorf("administrator elevation is not available on this system: %w", err)
	case errors.Is(err, consent.ErrNonInteractive):
		return err
	case errors.Is(err, deploy.ErrTargetLocked):
		return fmt.Errorf("another symdeploy run is using this game directory: %w", err)
	case errors.Is(err, elevation.ErrElevationFailed):
		return fmt.Errorf("could not start the elevated helper: %w", err)
	default:
		return err
	}
}

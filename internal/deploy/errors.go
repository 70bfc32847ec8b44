package deploy

import (
	"errors"
	"fmt"

	"symdeploy/internal/elevation"
)

var (
	// ErrNotStarted is returned for operations issued without a live helper session.
	ErrNotStarted = errors.New("elevated helper session not started")
	// ErrTargetLocked means another symdeploy process is deploying into the same directory.
	ErrTargetLocked = errors.New("target directory locked by another symdeploy process")
)

// Operation kinds.
const (
	KindLink   = "link"
	KindUnlink = "unlink"
)

// CodeDisconnected is the failure code of operations orphaned by a helper
// that went away before replying.
const CodeDisconnected = "disconnected"

// OperationError describes one link or unlink the helper could not perform.
type OperationError struct {
	Num          uint64
	Kind         string
	Source       string
	Destination  string
	Code         string
	Message      string
	NotSupported bool
}

func (e *OperationError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Destination, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Kind, e.Destination, e.Code, e.Message)
}

// Unwrap lets errors.Is recognise orphaned operations.
func (e *OperationError) Unwrap() error {
	if e.Code == CodeDisconnected {
		return elevation.ErrHelperDisconnected
	}
	return nil
}

//go:build windows

package linkops

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// notSupported reports volumes such as FAT32 that refuse reparse points, and
// a directory sitting where the link should go.
func notSupported(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SUPPORTED) ||
		errors.Is(err, windows.ERROR_INVALID_FUNCTION) ||
		errors.Is(err, syscall.EISDIR)
}

func privilegeNotHeld(err error) bool {
	return errors.Is(err, windows.ERROR_PRIVILEGE_NOT_HELD)
}

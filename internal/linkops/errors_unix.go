//go:build unix

package linkops

import (
	"errors"

	"golang.org/x/sys/unix"
)

// notSupported reports filesystems that cannot hold a symlink at the
// destination, including a directory sitting where the link should go.
func notSupported(err error) bool {
	return errors.Is(err, unix.EISDIR) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOTSUP)
}

func privilegeNotHeld(error) bool {
	return false
}

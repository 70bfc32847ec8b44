//go:build !unix && !windows

package linkops

import "errors"

func notSupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported)
}

func privilegeNotHeld(error) bool {
	return false
}

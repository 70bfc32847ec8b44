//go:build windows

package elevation

import "golang.org/x/sys/windows"

// IsElevated reports whether the current process token is elevated from a
// UAC perspective. A non-elevated administrator still reports false.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

package deploy

import "fmt"

// IsSupported reports whether gameID can be deployed with elevated symbolic
// links on this platform. When it cannot, reason explains why.
func (c *Coordinator) IsSupported(gameID string) (reason string, ok bool) {
	if c.goos != "windows" {
		return fmt.Sprintf("elevated symlink deployment is only available on Windows (running on %s)", c.goos), false
	}
	if gameID != "" && c.cfg.GameIncompatible(gameID) {
		return fmt.Sprintf("game %q does not load files through symbolic links", gameID), false
	}
	return "", true
}

//go:build !unix

package preflight

import (
	"os"
	"path/filepath"
)

// checkAccess opens the directory and creates a scratch file in it; ACLs on
// Windows make mode bits meaningless.
func checkAccess(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	_ = dir.Close()

	f, err := os.CreateTemp(path, ".symdeploy-access-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := checkAccess(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSymlinkCreation probes whether this process can create a symbolic
// link in dir on its own. A failure is expected on Windows without developer
// mode and only means deployments go through the elevated helper.
func CheckSymlinkCreation(ctx context.Context, dir string) Result {
	const name = "Unprivileged symlinks"

	if err := ctx.Err(); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	probe := filepath.Join(dir, ".symdeploy-probe-"+uuid.NewString())
	if err := os.Symlink(dir, probe); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("not permitted, elevation required (%v)", err)}
	}
	if err := os.Remove(probe); err != nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("permitted (probe %s left behind: %v)", probe, err)}
	}
	return Result{Name: name, Passed: true, Detail: "permitted"}
}

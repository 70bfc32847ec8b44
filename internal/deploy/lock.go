package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// TargetLock is held while a deployment writes into a target directory.
type TargetLock struct {
	path string
	lock *flock.Flock
}

// AcquireTargetLock takes the per-directory deployment lock for dir without
// blocking. ErrTargetLocked is returned when another process holds it.
func (c *Coordinator) AcquireTargetLock(dir string) (*TargetLock, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve target directory: %w", err)
	}
	lockDir := c.cfg.LockDir()
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String() + ".lock"
	path := filepath.Join(lockDir, name)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetLocked, abs)
	}
	return &TargetLock{path: path, lock: lock}, nil
}

// Path returns the lock file location.
func (l *TargetLock) Path() string {
	return l.path
}

// Release unlocks the target directory.
func (l *TargetLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}

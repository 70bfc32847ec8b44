package elevation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"symdeploy/internal/logging"
)

// RunFlag is the argument that switches the executable into helper mode.
const RunFlag = "--run"

// requestPattern names the temp file holding a request document.
const requestPattern = "symdeploy-*.json"

// Launcher starts an elevated helper for req. It returns once the OS has
// accepted the request; the helper connects back on its own.
type Launcher interface {
	Launch(ctx context.Context, req *Request) error
}

// Elevator asks the OS to run exe with args in dir with administrator rights.
type Elevator func(ctx context.Context, exe string, args []string, dir string) error

// ShellLauncher writes the request to a temp file and re-runs the current
// executable elevated with RunFlag pointing at it.
type ShellLauncher struct {
	tempDir    string
	grace      time.Duration
	logger     *slog.Logger
	executable string
	createTemp func(dir, pattern string) (*os.File, error)
	elevate    Elevator

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// LauncherOption customizes a ShellLauncher.
type LauncherOption func(*ShellLauncher)

// WithExecutable overrides the program that is started elevated.
func WithExecutable(path string) LauncherOption {
	return func(l *ShellLauncher) {
		l.executable = path
	}
}

// WithElevator replaces the platform elevation call.
func WithElevator(e Elevator) LauncherOption {
	return func(l *ShellLauncher) {
		l.elevate = e
	}
}

// WithTempFactory replaces os.CreateTemp.
func WithTempFactory(fn func(dir, pattern string) (*os.File, error)) LauncherOption {
	return func(l *ShellLauncher) {
		l.createTemp = fn
	}
}

// NewShellLauncher creates a launcher writing request files to tempDir and
// removing them grace after launch.
func NewShellLauncher(tempDir string, grace time.Duration, logger *slog.Logger, opts ...LauncherOption) *ShellLauncher {
	l := &ShellLauncher{
		tempDir:    tempDir,
		grace:      grace,
		logger:     logging.NewComponentLogger(logger, "elevation"),
		createTemp: os.CreateTemp,
		elevate:    shellExecute,
		pending:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch implements Launcher.
func (l *ShellLauncher) Launch(ctx context.Context, req *Request) error {
	path, err := l.writeRequest(req)
	if err != nil {
		return err
	}

	exe := l.executable
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			l.remove(path)
			return Wrap(ErrElevationFailed, "launch helper", "resolve executable", err)
		}
	}

	l.logger.Debug("requesting elevation",
		logging.String(logging.FieldChannelID, req.ChannelID),
		logging.String("executable", exe),
		logging.String("request", path))

	err = l.elevate(ctx, exe, []string{RunFlag, path}, filepath.Dir(exe))
	// The helper reads the file after the prompt, so removal waits either way.
	l.scheduleRemoval(path)
	return err
}

func (l *ShellLauncher) writeRequest(req *Request) (string, error) {
	f, err := l.createTemp(l.tempDir, requestPattern)
	if err != nil {
		return "", fmt.Errorf("create request file: %w", err)
	}
	path := f.Name()
	if err := req.Encode(f); err != nil {
		_ = f.Close()
		l.remove(path)
		return "", fmt.Errorf("write request file: %w", err)
	}
	if err := f.Close(); err != nil {
		l.remove(path)
		return "", fmt.Errorf("write request file: %w", err)
	}
	return path, nil
}

func (l *ShellLauncher) scheduleRemoval(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[path] = time.AfterFunc(l.grace, func() {
		l.mu.Lock()
		_, ok := l.pending[path]
		delete(l.pending, path)
		l.mu.Unlock()
		if ok {
			l.remove(path)
		}
	})
}

func (l *ShellLauncher) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.WarnWithContext(l.logger, "failed to remove request file", "request_cleanup_failed",
			logging.String("request", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale request file remains in the temp directory"),
			logging.String(logging.FieldErrorHint, "delete the file manually"))
	}
}

// Pending returns the request files still awaiting removal.
func (l *ShellLauncher) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	paths := make([]string, 0, len(l.pending))
	for path := range l.pending {
		paths = append(paths, path)
	}
	return paths
}

// Close removes every pending request file immediately.
func (l *ShellLauncher) Close() error {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[string]*time.Timer)
	l.mu.Unlock()

	for path, timer := range pending {
		timer.Stop()
		l.remove(path)
	}
	return nil
}

package deploy_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"symdeploy/internal/config"
	"symdeploy/internal/consent"
	"symdeploy/internal/deploy"
	"symdeploy/internal/elevation"
	"symdeploy/internal/helper"
	"symdeploy/internal/ipc"
	"symdeploy/internal/linkops"
	"symdeploy/internal/metrics"
	"symdeploy/internal/testsupport"
)

// inProcessLauncher runs the real helper runtime in a goroutine instead of an
// elevated process.
type inProcessLauncher struct {
	registry helper.Registry

	mu       sync.Mutex
	launches int
	errs     []error
	wg       sync.WaitGroup
}

func newLauncher(registry helper.Registry) *inProcessLauncher {
	if registry == nil {
		registry = helper.Registry{
			elevation.HandlerLinkOperations: func(req *elevation.Request, logger *slog.Logger) (helper.Handler, error) {
				return linkops.FromRequest(req, logger)
			},
		}
	}
	return &inProcessLauncher{registry: registry}
}

func (l *inProcessLauncher) Launch(_ context.Context, req *elevation.Request) error {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := helper.Serve(context.Background(), req, l.registry)
		l.mu.Lock()
		l.errs = append(l.errs, err)
		l.mu.Unlock()
	}()
	return nil
}

func (l *inProcessLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// wait blocks until every helper exited and returns their results.
func (l *inProcessLauncher) wait(t *testing.T) []error {
	t.Helper()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not exit")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

type harness struct {
	cfg      *config.Config
	launcher *inProcessLauncher
	metrics  *metrics.Metrics
	coord    *deploy.Coordinator
}

func newHarness(t *testing.T, launcher *inProcessLauncher, gate consent.Gate, cfgOpts ...testsupport.ConfigOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, cfgOpts...)
	if launcher == nil {
		launcher = newLauncher(nil)
	}
	if gate == nil {
		gate = consent.Static(consent.Elevate)
	}
	h := &harness{cfg: cfg, launcher: launcher, metrics: metrics.New()}
	t.Cleanup(func() { launcher.wait(t) })
	h.coord = deploy.New(cfg, launcher, gate, nil, deploy.WithMetrics(h.metrics))
	t.Cleanup(func() { _ = h.coord.Close() })
	return h
}

func (h *harness) source(t *testing.T, rel string) string {
	t.Helper()
	path := filepath.Join(h.cfg.Paths.ModsDir, rel)
	testsupport.WriteFile(t, path, 16)
	return path
}

func (h *harness) target(rel string) string {
	return filepath.Join(h.cfg.Paths.TargetDir, rel)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLinkIntoMissingDirectoryCreatesSentinel(t *testing.T) {
	testsupport.RequireSymlinks(t)
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	source := h.source(t, "textures/a.dds")
	dest := h.target("data/textures/a.dds")

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.coord.LinkFile(ctx, source, dest); err != nil {
		t.Fatalf("LinkFile: %v", err)
	}
	summary, err := h.coord.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if summary.Linked != 1 || summary.Failed() != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	got, err := os.Readlink(dest)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if got != source {
		t.Fatalf("link points to %q, want %q", got, source)
	}
	for _, dir := range []string{h.target("data"), h.target("data/textures")} {
		if _, err := os.Stat(filepath.Join(dir, h.cfg.Elevation.TagFileName)); err != nil {
			t.Fatalf("expected sentinel in %s: %v", dir, err)
		}
	}
	if got := testutil.ToFloat64(h.metrics.Operations.WithLabelValues(deploy.KindLink, metrics.ResultOK)); got != 1 {
		t.Fatalf("expected 1 ok link metric, got %v", got)
	}
}

func TestBurstSharesOneElevation(t *testing.T) {
	testsupport.RequireSymlinks(t)
	h := newHarness(t, nil, nil, testsupport.WithQuitDelay(1000))
	ctx := context.Background()

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, name := range []string{"a.esp", "b.esp", "c.esp", "d.esp"} {
		if err := h.coord.Start(ctx); err != nil {
			t.Fatalf("Start while active: %v", err)
		}
		if err := h.coord.LinkFile(ctx, h.source(t, name), h.target(name)); err != nil {
			t.Fatalf("LinkFile %s: %v", name, err)
		}
	}
	summary, err := h.coord.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if summary.Linked != 4 {
		t.Fatalf("expected 4 links, got %d", summary.Linked)
	}
	if n := h.launcher.count(); n != 1 {
		t.Fatalf("expected one elevation, got %d", n)
	}
	if got := testutil.ToFloat64(h.metrics.Elevations.WithLabelValues(metrics.ElevationAccepted)); got != 1 {
		t.Fatalf("expected one accepted elevation metric, got %v", got)
	}
}

func TestConcurrentStartSharesOneElevation(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.coord.Start(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if n := h.launcher.count(); n != 1 {
		t.Fatalf("expected one elevation, got %d", n)
	}
}

func TestQuitAfterDrainStopsServerOnce(t *testing.T) {
	testsupport.RequireSymlinks(t)
	h := newHarness(t, nil, nil, testsupport.WithQuitDelay(200))
	ctx := context.Background()

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.coord.LinkFile(ctx, h.source(t, "a.esp"), h.target("a.esp")); err != nil {
		t.Fatalf("LinkFile: %v", err)
	}
	if _, err := h.coord.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if state := h.coord.State(); state != deploy.StateDraining {
		t.Fatalf("expected draining after finalize, got %s", state)
	}

	waitFor(t, "quit", func() bool { return h.coord.State() == deploy.StateIdle })
	for _, err := range h.launcher.wait(t) {
		if err != nil {
			t.Fatalf("helper exited with error: %v", err)
		}
	}

	if got := testutil.ToFloat64(h.metrics.Quits); got != 1 {
		t.Fatalf("expected exactly one quit, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.ServerStops); got != 1 {
		t.Fatalf("expected server stopped once, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.ActiveSessions); got != 0 {
		t.Fatalf("expected no active sessions, got %v", got)
	}
	sockets, _ := filepath.Glob(filepath.Join(h.cfg.Paths.SocketDir, "*.sock"))
	if len(sockets) != 0 {
		t.Fatalf("expected socket removed, found %v", sockets)
	}

	if err := h.coord.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.Quits); got != 1 {
		t.Fatalf("Close after quit must not send another quit, got %v", got)
	}
}

func TestOperationBeforeQuitReusesSession(t *testing.T) {
	testsupport.RequireSymlinks(t)
	h := newHarness(t, nil, nil, testsupport.WithQuitDelay(500))
	ctx := context.Background()

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.coord.LinkFile(ctx, h.source(t, "a.esp"), h.target("a.esp")); err != nil {
		t.Fatalf("LinkFile: %v", err)
	}
	if _, err := h.coord.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if err := h.coord.LinkFile(ctx, h.source(t, "b.esp"), h.target("b.esp")); err != nil {
		t.Fatalf("LinkFile while draining: %v", err)
	}
	if state := h.coord.State(); state != deploy.StateActive {
		t.Fatalf("expected new operation to re-enter active, got %s", state)
	}
	summary, err := h.coord.Finalize(ctx)
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if summary.Linked != 1 {
		t.Fatalf("expected second summary to hold only the new link, got %+v", summary)
	}

	waitFor(t, "quit", func() bool { return h.coord.State() == deploy.StateIdle })
	if n := h.launcher.count(); n != 1 {
		t.Fatalf("expected session reuse, got %d elevations", n)
	}
	if got := testutil.ToFloat64(h.metrics.Quits); got != 1 {
		t.Fatalf("expected exactly one quit, got %v", got)
	}
}

func TestStartAfterQuitElevatesAgain(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.coord.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	waitFor(t, "quit", func() bool { return h.coord.State() == deploy.StateIdle })

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := h.launcher.count(); n != 2 {
		t.Fatalf("expected a second elevation, got %d", n)
	}
}

func TestOperationsRequireSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	if err := h.coord.LinkFile(ctx, "a", h.target("a")); !errors.Is(err, deploy.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := h.coord.UnlinkFile(ctx, h.target("a")); !errors.Is(err, deploy.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	summary, err := h.coord.Finalize(ctx)
	if err != nil || summary.Total() != 0 {
		t.Fatalf("expected empty finalize, got %+v %v", summary, err)
	}
	if n := h.launcher.count(); n != 0 {
		t.Fatalf("expected no elevation, got %d", n)
	}
}

func TestDeclinedConsentNeverLaunches(t *testing.T) {
	h := newHarness(t, nil, consent.Static(consent.Cancel))

	err := h.coord.Start(context.Background())
	if !errors.Is(err, elevation.ErrConsentDeclined) {
		t.Fatalf("expected ErrConsentDeclined, got %v", err)
	}
	if state := h.coord.State(); state != deploy.StateFailed {
		t.Fatalf("expected failed state, got %s", state)
	}
	if n := h.launcher.count(); n != 0 {
		t.Fatalf("expected no elevation, got %d", n)
	}
	if got := testutil.ToFloat64(h.metrics.Elevations.WithLabelValues(metrics.ElevationDeclined)); got != 1 {
		t.Fatalf("expected declined metric, got %v", got)
	}
}

func TestTempFileFailureLeavesNoServer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	launcher := elevation.NewShellLauncher(cfg.Paths.TempDir, cfg.TempGrace(), nil,
		elevation.WithTempFactory(func(string, string) (*os.File, error) {
			return nil, errors.New("no space left on device")
		}),
		elevation.WithElevator(func(context.Context, string, []string, string) error {
			t.Fatal("elevator must not run when the request file cannot be written")
			return nil
		}),
	)
	m := metrics.New()
	coord := deploy.New(cfg, launcher, consent.Static(consent.Elevate), nil, deploy.WithMetrics(m))
	t.Cleanup(func() { _ = coord.Close() })

	err := coord.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no space left on device") {
		t.Fatalf("expected temp failure message, got %v", err)
	}
	sockets, _ := filepath.Glob(filepath.Join(cfg.Paths.SocketDir, "*.sock"))
	if len(sockets) != 0 {
		t.Fatalf("expected no server left behind, found %v", sockets)
	}
	if got := testutil.ToFloat64(m.ServerStops); got != 1 {
		t.Fatalf("expected server stopped once, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Fatalf("expected no active session, got %v", got)
	}
}

// stalling holds every request until release is closed, then fails so the
// helper aborts the session.
type stalling struct {
	release chan struct{}
}

func (s stalling) Handle(context.Context, ipc.Message, ipc.Sender) error {
	<-s.release
	return errors.New("handler crashed")
}

func TestHelperDisconnectOrphansOperations(t *testing.T) {
	release := make(chan struct{})
	launcher := newLauncher(helper.Registry{
		elevation.HandlerLinkOperations: func(*elevation.Request, *slog.Logger) (helper.Handler, error) {
			return stalling{release: release}, nil
		},
	})
	h := newHarness(t, launcher, nil)
	ctx := context.Background()

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.coord.LinkFile(ctx, "/mods/a.esp", h.target("a.esp")); err != nil {
		t.Fatalf("LinkFile: %v", err)
	}
	if err := h.coord.UnlinkFile(ctx, h.target("b.esp")); err != nil {
		t.Fatalf("UnlinkFile: %v", err)
	}
	close(release)

	summary, err := h.coord.Finalize(ctx)
	if !errors.Is(err, elevation.ErrHelperDisconnected) {
		t.Fatalf("expected ErrHelperDisconnected, got %v", err)
	}
	if summary.Failed() != 2 {
		t.Fatalf("expected both operations orphaned, got %+v", summary)
	}
	for _, failure := range summary.Failures {
		if failure.Code != deploy.CodeDisconnected {
			t.Fatalf("unexpected failure code %q", failure.Code)
		}
	}
	if state := h.coord.State(); state != deploy.StateIdle {
		t.Fatalf("expected idle after disconnect, got %s", state)
	}
	if got := testutil.ToFloat64(h.metrics.Operations.WithLabelValues(deploy.KindLink, metrics.ResultOrphaned)); got != 1 {
		t.Fatalf("expected orphaned link metric, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.ServerStops); got != 1 {
		t.Fatalf("expected server stopped once, got %v", got)
	}
	if err := h.coord.LinkFile(ctx, "/mods/c.esp", h.target("c.esp")); !errors.Is(err, deploy.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted after disconnect, got %v", err)
	}
}

// unsupportedFS answers like a filesystem without symlink support.
type unsupportedFS struct{}

func (unsupportedFS) Handle(_ context.Context, msg ipc.Message, out ipc.Sender) error {
	if err := out.Send(ipc.Message{Type: ipc.TypeReport, Kind: ipc.ReportNotSupported, Num: msg.Num, Destination: msg.Destination}); err != nil {
		return err
	}
	return out.Send(ipc.Completed(msg.Num, &ipc.RemoteError{Code: linkops.CodeNotSupported, Message: "operation not supported"}))
}

func TestNotSupportedReportsAreCollected(t *testing.T) {
	launcher := newLauncher(helper.Registry{
		elevation.HandlerLinkOperations: func(*elevation.Request, *slog.Logger) (helper.Handler, error) {
			return unsupportedFS{}, nil
		},
	})
	h := newHarness(t, launcher, nil)
	ctx := context.Background()

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dest := h.target("a.esp")
	if err := h.coord.LinkFile(ctx, "/mods/a.esp", dest); err != nil {
		t.Fatalf("LinkFile: %v", err)
	}
	summary, err := h.coord.Finalize(ctx)
	if err == nil {
		t.Fatal("expected failure to surface from Finalize")
	}
	if len(summary.NotSupported) != 1 || summary.NotSupported[0] != dest {
		t.Fatalf("expected not-supported destination, got %v", summary.NotSupported)
	}
	if !summary.Failures[0].NotSupported {
		t.Fatalf("expected failure flagged not supported: %+v", summary.Failures[0])
	}
	if got := testutil.ToFloat64(h.metrics.Operations.WithLabelValues(deploy.KindLink, metrics.ResultNotSupported)); got != 1 {
		t.Fatalf("expected not-supported metric, got %v", got)
	}
}

func TestCloseQuitsImmediately(t *testing.T) {
	h := newHarness(t, nil, nil, testsupport.WithQuitDelay(60000))
	ctx := context.Background()

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.coord.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := h.coord.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if state := h.coord.State(); state != deploy.StateIdle {
		t.Fatalf("expected idle after close, got %s", state)
	}
	for _, err := range h.launcher.wait(t) {
		if err != nil {
			t.Fatalf("helper exited with error: %v", err)
		}
	}
	if got := testutil.ToFloat64(h.metrics.Quits); got != 1 {
		t.Fatalf("expected one quit, got %v", got)
	}
	if err := h.coord.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.ServerStops); got != 1 {
		t.Fatalf("expected server stopped once, got %v", got)
	}
}

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"symdeploy/internal/config"
	"symdeploy/internal/consent"
	"symdeploy/internal/elevation"
	"symdeploy/internal/helper"
	"symdeploy/internal/ipc"
	"symdeploy/internal/linkops"
	"symdeploy/internal/testsupport"
)

// helperLauncher serves requests with the real helper registry in-process.
type helperLauncher struct {
	mu       sync.Mutex
	launches int
	wg       sync.WaitGroup
}

func (l *helperLauncher) Launch(_ context.Context, req *elevation.Request) error {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = helper.Serve(context.Background(), req, helperRegistry())
	}()
	return nil
}

func (l *helperLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	launcher   *helperLauncher
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	home := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	configPath := filepath.Join(testsupport.BaseDir(cfg), "symdeploy.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{cfg: cfg, configPath: configPath, launcher: &helperLauncher{}}
	t.Cleanup(func() {
		done := make(chan struct{})
		go func() {
			env.launcher.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("helper did not exit")
		}
	})
	return env
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (env *cliTestEnv) context(gate consent.Gate) *commandContext {
	ctx := newCommandContext()
	ctx.newLauncher = func(*config.Config, *slog.Logger) elevation.Launcher {
		return env.launcher
	}
	ctx.gate = gate
	ctx.platform = "windows"
	return ctx
}

func runCLI(t *testing.T, ctx *commandContext, args ...string) (string, string, error) {
	t.Helper()
	return runCLIWithContext(t, context.Background(), ctx, args...)
}

func runCLIWithContext(t *testing.T, parent context.Context, ctx *commandContext, args ...string) (string, string, error) {
	t.Helper()
	cmd := buildRootCommand(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(parent)
	return stdout.String(), stderr.String(), err
}

// interruptingGate cancels the command context before answering, like a
// Ctrl-C arriving while the prompt is open.
type interruptingGate struct {
	cancel context.CancelFunc
}

func (g interruptingGate) Confirm(context.Context, consent.Prompt) (consent.Decision, error) {
	g.cancel()
	return consent.Cancel, nil
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.context(nil), "--config", env.configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.JournalPath())

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, env.context(nil), "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, env.context(nil), "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}
}

func TestDeployAndPurgeRecordJournal(t *testing.T) {
	testsupport.RequireSymlinks(t)
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.ModsDir, "a.esp"), 8)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.ModsDir, "textures", "b.dds"), 8)

	out, _, err := runCLI(t, env.context(nil), "--config", env.configPath, "--yes", "deploy", "--game", "skyrimse")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	requireContains(t, out, "Linked 2 file(s)")
	link := filepath.Join(env.cfg.Paths.TargetDir, "textures", "b.dds")
	if got, err := os.Readlink(link); err != nil || got != filepath.Join(env.cfg.Paths.ModsDir, "textures", "b.dds") {
		t.Fatalf("unexpected link %s: %q %v", link, got, err)
	}

	out, _, err = runCLI(t, env.context(nil), "--config", env.configPath, "--yes", "purge")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	requireContains(t, out, "Removed 2 link(s)")
	if _, err := os.Lstat(filepath.Join(env.cfg.Paths.TargetDir, "textures")); !os.IsNotExist(err) {
		t.Fatalf("expected tagged directory pruned: %v", err)
	}

	out, _, err = runCLI(t, env.context(nil), "--config", env.configPath, "journal")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	requireContains(t, out, "Deploy")
	requireContains(t, out, "Purge")
	requireContains(t, out, "Completed")
	requireContains(t, out, "skyrimse")

	if n := env.launcher.count(); n != 2 {
		t.Fatalf("expected one elevation per command, got %d", n)
	}
}

func TestDeployDeclinedIsExplained(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.ModsDir, "a.esp"), 8)

	_, _, err := runCLI(t, env.context(consent.Static(consent.Cancel)), "--config", env.configPath, "deploy")
	if err == nil {
		t.Fatal("expected declined deploy to fail")
	}
	requireContains(t, err.Error(), "elevation declined; no links were changed")
	if n := env.launcher.count(); n != 0 {
		t.Fatalf("expected no elevation, got %d", n)
	}

	out, _, err := runCLI(t, env.context(nil), "--config", env.configPath, "journal")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	requireContains(t, out, "Declined")
}

func TestInterruptedDeployStillFinishesJournalRun(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.ModsDir, "a.esp"), 8)

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, err := runCLIWithContext(t, parent, env.context(interruptingGate{cancel: cancel}), "--config", env.configPath, "deploy")
	if err == nil {
		t.Fatal("expected interrupted deploy to fail")
	}

	out, _, err := runCLI(t, env.context(nil), "--config", env.configPath, "journal")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	requireContains(t, out, "Declined")
	if strings.Contains(out, "Active") {
		t.Fatalf("expected run to be finished, got %q", out)
	}
}

func TestDeployRefusesIncompatibleGame(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithIncompatibleGames("starfield"))

	_, _, err := runCLI(t, env.context(nil), "--config", env.configPath, "--yes", "deploy", "--game", "Starfield")
	if err == nil {
		t.Fatal("expected incompatible game to be refused")
	}
	requireContains(t, err.Error(), "symlink deployment unavailable")
	if n := env.launcher.count(); n != 0 {
		t.Fatalf("expected no elevation, got %d", n)
	}
}

func TestSupportCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := env.context(nil)
	ctx.platform = "linux"

	out, _, err := runCLI(t, ctx, "--config", env.configPath, "support", "--game", "skyrimse")
	if err != nil {
		t.Fatalf("support: %v", err)
	}
	requireContains(t, out, "Supported")
	requireContains(t, out, "only available on Windows")
	requireContains(t, out, "Game directory")
	requireContains(t, out, "read/write ok")
}

func TestJournalEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.context(nil), "--config", env.configPath, "journal")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestRunFlagServesRequestFile(t *testing.T) {
	t.Chdir(t.TempDir())
	env := setupCLITestEnv(t)

	channel := elevation.NewChannelID()
	srv, err := ipc.Listen(env.cfg.Paths.SocketDir, channel, nil)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	req, err := elevation.NewRequest(channel, srv.Path(), elevation.HandlerLinkOperations,
		linkops.Args(env.cfg.Elevation.TagFileName, []string{env.cfg.Paths.TargetDir}))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	requestPath := filepath.Join(env.cfg.Paths.TempDir, "request.json")
	f, err := os.Create(requestPath)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := req.Encode(f); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	_ = f.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := runCLI(t, env.context(nil), "--run", requestPath)
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := srv.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	msg, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg.Type != ipc.TypeInitialised || msg.Token != req.Token {
		t.Fatalf("unexpected handshake: %+v", msg)
	}
	if err := conn.Send(ipc.Quit()); err != nil {
		t.Fatalf("send quit: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("helper mode returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("helper mode did not exit after quit")
	}
}

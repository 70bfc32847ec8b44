package helper_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"symdeploy/internal/elevation"
	"symdeploy/internal/helper"
	"symdeploy/internal/ipc"
	"symdeploy/internal/linkops"
	"symdeploy/internal/testsupport"
)

type session struct {
	host *ipc.Conn
	req  *elevation.Request
	done chan error
}

func startHelper(t *testing.T, registry helper.Registry, args map[string]any) *session {
	t.Helper()

	channel := elevation.NewChannelID()
	srv, err := ipc.Listen(testsupport.SocketDir(t), channel, nil)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	req, err := elevation.NewRequest(channel, srv.Path(), elevation.HandlerLinkOperations, args)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() {
		done <- helper.Serve(ctx, req, registry)
	}()

	host, err := srv.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return &session{host: host, req: req, done: done}
}

func (s *session) receive(t *testing.T, want ipc.MessageType) ipc.Message {
	t.Helper()
	for {
		msg, err := s.host.Receive()
		if err != nil {
			t.Fatalf("receive %s: %v", want, err)
		}
		if msg.Type == ipc.TypeLog && want != ipc.TypeLog {
			continue
		}
		if msg.Type != want {
			t.Fatalf("expected %s, got %+v", want, msg)
		}
		return msg
	}
}

func (s *session) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not exit")
	}
	return nil
}

func linkRegistry() helper.Registry {
	return helper.Registry{
		elevation.HandlerLinkOperations: func(req *elevation.Request, logger *slog.Logger) (helper.Handler, error) {
			return linkops.FromRequest(req, logger)
		},
	}
}

func TestServeHandshakeLinkAndQuit(t *testing.T) {
	testsupport.RequireSymlinks(t)
	base := t.TempDir()
	source := filepath.Join(base, "mods", "a.esp")
	testsupport.WriteFile(t, source, 1)
	dest := filepath.Join(base, "game", "Data", "a.esp")

	s := startHelper(t, linkRegistry(), linkops.Args("__tag", nil))

	hello := s.receive(t, ipc.TypeInitialised)
	if hello.Token != s.req.Token {
		t.Fatalf("token mismatch: %q vs %q", hello.Token, s.req.Token)
	}

	if err := s.host.Send(ipc.LinkFile(1, source, dest)); err != nil {
		t.Fatalf("send link-file: %v", err)
	}
	done := s.receive(t, ipc.TypeCompleted)
	if done.Num != 1 || done.Err != nil {
		t.Fatalf("unexpected completion: %+v", done)
	}
	if _, err := os.Stat(filepath.Join(base, "game", "Data", "__tag")); err != nil {
		t.Fatalf("expected tag file: %v", err)
	}

	if err := s.host.Send(ipc.Quit()); err != nil {
		t.Fatalf("send quit: %v", err)
	}
	if err := s.wait(t); err != nil {
		t.Fatalf("Serve returned error after quit: %v", err)
	}
}

func TestServeExitsWhenHostDisconnects(t *testing.T) {
	s := startHelper(t, linkRegistry(), linkops.Args("__tag", nil))
	s.receive(t, ipc.TypeInitialised)
	s.host.Close()
	if err := s.wait(t); err != nil {
		t.Fatalf("expected clean exit on disconnect, got %v", err)
	}
}

type panicking struct{}

func (panicking) Handle(context.Context, ipc.Message, ipc.Sender) error {
	panic("handler exploded")
}

func TestServeReportsPanicAndDisconnects(t *testing.T) {
	registry := helper.Registry{
		elevation.HandlerLinkOperations: func(*elevation.Request, *slog.Logger) (helper.Handler, error) {
			return panicking{}, nil
		},
	}
	s := startHelper(t, registry, nil)
	s.receive(t, ipc.TypeInitialised)

	if err := s.host.Send(ipc.RemoveLink(1, "/x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	failure := s.receive(t, ipc.TypeError)
	if !strings.Contains(failure.Message, "handler exploded") {
		t.Fatalf("unexpected error message: %q", failure.Message)
	}
	s.receive(t, ipc.TypeDisconnect)

	if err := s.wait(t); err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestServeReportsFactoryFailure(t *testing.T) {
	registry := helper.Registry{
		elevation.HandlerLinkOperations: func(*elevation.Request, *slog.Logger) (helper.Handler, error) {
			return nil, errors.New("bad arguments")
		},
	}
	s := startHelper(t, registry, nil)
	failure := s.receive(t, ipc.TypeError)
	if failure.Message != "bad arguments" {
		t.Fatalf("unexpected error message: %q", failure.Message)
	}
	if err := s.wait(t); err == nil {
		t.Fatal("expected factory error")
	}
}

type logging struct{ logger *slog.Logger }

func (l logging) Handle(_ context.Context, msg ipc.Message, out ipc.Sender) error {
	l.logger.WithGroup("op").Warn("handling", slog.Uint64("num", msg.Num), slog.Any("err", errors.New("denied")))
	return out.Send(ipc.Completed(msg.Num, nil))
}

func TestServeForwardsLogs(t *testing.T) {
	registry := helper.Registry{
		elevation.HandlerLinkOperations: func(_ *elevation.Request, logger *slog.Logger) (helper.Handler, error) {
			return logging{logger: logger}, nil
		},
	}
	s := startHelper(t, registry, nil)
	s.receive(t, ipc.TypeInitialised)

	if err := s.host.Send(ipc.RemoveLink(9, "/x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	var record ipc.Message
	for {
		msg, err := s.host.Receive()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if msg.Type == ipc.TypeLog && msg.Message == "handling" {
			record = msg
			break
		}
	}
	if record.Level != "warn" {
		t.Fatalf("unexpected level %q", record.Level)
	}
	if record.Meta["op.num"] != float64(9) || record.Meta["op.err"] != "denied" {
		t.Fatalf("unexpected meta: %v", record.Meta)
	}
	if record.Meta["channel_id"] != s.req.ChannelID {
		t.Fatalf("expected channel id in meta, got %v", record.Meta)
	}
	s.receive(t, ipc.TypeCompleted)
	_ = s.host.Send(ipc.Quit())
	_ = s.wait(t)
}

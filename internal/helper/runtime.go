package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"symdeploy/internal/elevation"
	"symdeploy/internal/ipc"
	"symdeploy/internal/logging"
)

// Handler serves host requests inside the elevated process. It must send
// exactly one completed message per request.
type Handler interface {
	Handle(ctx context.Context, msg ipc.Message, out ipc.Sender) error
}

// Factory builds a Handler from the arguments bound into a request.
type Factory func(req *elevation.Request, logger *slog.Logger) (Handler, error)

// Registry maps handler names to the code compiled into this binary.
type Registry map[elevation.HandlerName]Factory

// RunFile is the helper process entry point: it loads the request written by
// the launcher, moves into the host's module root and serves the session.
func RunFile(ctx context.Context, path string, registry Registry) error {
	req, err := elevation.ReadFile(path)
	if err != nil {
		return err
	}
	if req.ModuleRoot != "" {
		if err := os.Chdir(req.ModuleRoot); err != nil {
			return fmt.Errorf("enter module root: %w", err)
		}
	}
	return Serve(ctx, req, registry)
}

// Serve dials the host channel named in req and dispatches requests until the
// host sends quit or disconnects. A panic is reported to the host as an error
// followed by disconnect and returned as an error so the process exits
// instead of lingering with administrator rights.
func Serve(ctx context.Context, req *elevation.Request, registry Registry) (err error) {
	factory, ok := registry[req.Handler]
	if !ok {
		return fmt.Errorf("handler %q not registered", req.Handler)
	}

	conn, err := ipc.Dial(ctx, req.Socket)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	logger := slog.New(NewForwardHandler(conn, slog.LevelDebug)).With(logging.String(logging.FieldChannelID, req.ChannelID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("helper panic: %v", r)
			abort(conn, fmt.Sprintf("%v\n%s", r, debug.Stack()))
		}
	}()

	handler, err := factory(req, logger)
	if err != nil {
		abort(conn, err.Error())
		return fmt.Errorf("build handler %q: %w", req.Handler, err)
	}

	if err := conn.Send(ipc.Message{Type: ipc.TypeInitialised, Token: req.Token, Version: ipc.ProtocolVersion}); err != nil {
		return err
	}
	logger.Debug("helper ready", logging.Int("pid", os.Getpid()))

	for {
		msg, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ipc.ErrProtocol) {
				abort(conn, err.Error())
			}
			return err
		}

		switch msg.Type {
		case ipc.TypeQuit:
			logger.Debug("quit received")
			return nil
		default:
			if err := handler.Handle(ctx, msg, conn); err != nil {
				abort(conn, err.Error())
				return err
			}
		}
	}
}

func abort(conn *ipc.Conn, message string) {
	_ = conn.Send(ipc.Message{Type: ipc.TypeError, Message: message})
	_ = conn.Send(ipc.Message{Type: ipc.TypeDisconnect})
}

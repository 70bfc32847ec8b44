package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"symdeploy/internal/config"
	"symdeploy/internal/consent"
	"symdeploy/internal/elevation"
	"symdeploy/internal/ipc"
	"symdeploy/internal/linkops"
	"symdeploy/internal/logging"
	"symdeploy/internal/metrics"
)

// State is the lifecycle position of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateDraining
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Coordinator routes link operations through one elevated helper at a time.
type Coordinator struct {
	cfg      *config.Config
	launcher elevation.Launcher
	gate     consent.Gate
	metrics  *metrics.Metrics
	logger   *slog.Logger
	helper   *slog.Logger
	roots    []string
	goos     string

	mu         sync.Mutex
	state      State
	starting   chan struct{}
	startErr   error
	session    *session
	generation uint64
	quitTimer  *time.Timer
	nextNum    uint64
	summary    Summary
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithMetrics records session and operation metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRoots restricts the helper to destinations inside roots. The default is
// the configured target directory.
func WithRoots(roots ...string) Option {
	return func(c *Coordinator) {
		c.roots = append([]string(nil), roots...)
	}
}

// WithPlatform overrides the operating system IsSupported reports on.
func WithPlatform(goos string) Option {
	return func(c *Coordinator) {
		c.goos = goos
	}
}

// New builds an idle Coordinator. The helper is only launched by Start.
func New(cfg *config.Config, launcher elevation.Launcher, gate consent.Gate, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Coordinator{
		cfg:      cfg,
		launcher: launcher,
		gate:     gate,
		logger:   logging.NewComponentLogger(logger, "deploy"),
		helper:   logging.NewComponentLogger(logger, "helper"),
		goos:     runtime.GOOS,
	}
	if cfg.Paths.TargetDir != "" {
		c.roots = []string{cfg.Paths.TargetDir}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start makes sure a helper session is live. A live session is reused and
// its pending quit cancelled; concurrent callers share one start attempt.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateActive, StateDraining:
		c.cancelQuitLocked()
		c.state = StateActive
		c.mu.Unlock()
		return nil
	case StateStarting:
		wait := c.starting
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.session != nil {
			return nil
		}
		if c.startErr != nil {
			return c.startErr
		}
		return ErrNotStarted
	}

	c.state = StateStarting
	c.startErr = nil
	done := make(chan struct{})
	c.starting = done
	c.mu.Unlock()

	sess, err := c.start(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = StateFailed
		c.startErr = err
	} else {
		c.session = sess
		c.state = StateActive
	}
	c.starting = nil
	close(done)
	c.mu.Unlock()

	if err != nil {
		return err
	}
	go c.read(sess)
	return nil
}

func (c *Coordinator) start(ctx context.Context) (*session, error) {
	decision, err := c.gate.Confirm(ctx, consent.Prompt{
		Title:   "Administrator rights required",
		Message: "Creating symbolic links in the game directory needs administrator rights. Start the elevated helper?",
	})
	if err != nil {
		return nil, fmt.Errorf("confirm elevation: %w", err)
	}
	if decision != consent.Elevate {
		c.metrics.ObserveElevation(metrics.ElevationDeclined)
		logging.WarnWithContext(c.logger, "elevation declined at consent prompt", "elevation_declined",
			logging.String(logging.FieldImpact, "no links were changed"))
		return nil, elevation.Wrap(elevation.ErrConsentDeclined, "confirm elevation", "cancelled by user", nil)
	}

	channelID := elevation.NewChannelID()
	logger := logging.WithContext(logging.WithChannelID(ctx, channelID), c.logger)

	server, err := ipc.Listen(c.cfg.Paths.SocketDir, channelID, logger)
	if err != nil {
		return nil, elevation.Wrap(elevation.ErrElevationFailed, "open helper channel", "", err)
	}

	req, err := elevation.NewRequest(channelID, server.Path(), elevation.HandlerLinkOperations,
		linkops.Args(c.cfg.Elevation.TagFileName, c.roots))
	if err != nil {
		c.stopServer(server)
		return nil, err
	}

	launchedAt := time.Now()
	if err := c.launcher.Launch(ctx, req); err != nil {
		c.stopServer(server)
		c.metrics.ObserveElevation(elevationResult(err))
		return nil, err
	}
	c.metrics.ObserveElevation(metrics.ElevationAccepted)
	logger.Debug("elevation accepted, waiting for helper")

	timeout := c.cfg.ConnectTimeout()
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := server.Accept(connectCtx)
	if err != nil {
		c.stopServer(server)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, elevation.Wrap(elevation.ErrElevationFailed, "wait for helper",
				fmt.Sprintf("no connection within %s", timeout), err)
		}
		return nil, elevation.Wrap(elevation.ErrElevationFailed, "wait for helper", "", err)
	}

	if err := c.handshake(conn, req.Token, time.Now().Add(timeout)); err != nil {
		c.stopServer(server)
		return nil, err
	}

	c.metrics.SessionStarted()
	logger.Info("elevated helper connected", logging.Duration("waited", time.Since(launchedAt)))
	return newSession(channelID, server, conn), nil
}

// handshake waits for initialised. Logs sent while the helper builds its
// handler are forwarded; an error followed by disconnect fails the start.
func (c *Coordinator) handshake(conn *ipc.Conn, token string, deadline time.Time) error {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return elevation.Wrap(elevation.ErrElevationFailed, "helper handshake", "", err)
	}
	var remote string
	for {
		msg, err := conn.Receive()
		if err != nil {
			if remote != "" {
				return elevation.Wrap(elevation.ErrElevationFailed, "helper handshake", remote, err)
			}
			return elevation.Wrap(elevation.ErrElevationFailed, "helper handshake", "", err)
		}
		switch msg.Type {
		case ipc.TypeInitialised:
			if msg.Token != token {
				return fmt.Errorf("%w: helper presented an unknown token", elevation.ErrProtocol)
			}
			if msg.Version != ipc.ProtocolVersion {
				return fmt.Errorf("%w: helper speaks protocol %d, expected %d", elevation.ErrProtocol, msg.Version, ipc.ProtocolVersion)
			}
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return elevation.Wrap(elevation.ErrElevationFailed, "helper handshake", "", err)
			}
			return nil
		case ipc.TypeLog:
			c.forwardLog("", msg)
		case ipc.TypeError:
			remote = msg.Message
		case ipc.TypeDisconnect:
			return elevation.Wrap(elevation.ErrElevationFailed, "helper handshake", remote, nil)
		default:
			return fmt.Errorf("%w: unexpected %q before initialised", elevation.ErrProtocol, msg.Type)
		}
	}
}

func elevationResult(err error) string {
	switch {
	case errors.Is(err, elevation.ErrConsentDeclined):
		return metrics.ElevationDeclined
	case errors.Is(err, elevation.ErrUnsupportedPlatform):
		return metrics.ElevationUnsupported
	default:
		return metrics.ElevationFailed
	}
}

// LinkFile asks the helper to create a symbolic link at destination pointing
// to source. It returns once the request is sent; the outcome is part of the
// next Finalize summary.
func (c *Coordinator) LinkFile(ctx context.Context, source, destination string) error {
	return c.dispatch(ctx, KindLink, source, destination)
}

// UnlinkFile asks the helper to remove the symbolic link at destination.
func (c *Coordinator) UnlinkFile(ctx context.Context, destination string) error {
	return c.dispatch(ctx, KindUnlink, "", destination)
}

func (c *Coordinator) dispatch(ctx context.Context, kind, source, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	s := c.session
	if s == nil || s.ended {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.cancelQuitLocked()
	c.state = StateActive
	c.nextNum++
	op := &pendingOp{
		num:          c.nextNum,
		kind:         kind,
		source:       source,
		destination:  destination,
		dispatchedAt: time.Now(),
	}
	s.add(op)
	c.mu.Unlock()

	var msg ipc.Message
	if kind == KindLink {
		msg = ipc.LinkFile(op.num, source, destination)
	} else {
		msg = ipc.RemoveLink(op.num, destination)
	}
	if err := s.conn.Send(msg); err != nil {
		c.mu.Lock()
		s.remove(op.num)
		c.mu.Unlock()
		return elevation.Wrap(elevation.ErrHelperDisconnected, "send "+kind, destination, err)
	}
	return nil
}

// Finalize waits until every dispatched operation completed, arms the quit
// timer and returns the operations finished since the previous Finalize. The
// error joins every per-operation failure.
func (c *Coordinator) Finalize(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	s := c.session
	if s == nil {
		summary := c.takeSummaryLocked()
		c.mu.Unlock()
		return summary, summary.Err()
	}
	c.state = StateDraining
	idle := s.idle
	c.mu.Unlock()

	select {
	case <-idle:
	case <-s.done:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}

	c.mu.Lock()
	if c.session == s && c.state == StateDraining && len(s.outstanding) == 0 {
		c.armQuitLocked()
	}
	summary := c.takeSummaryLocked()
	c.mu.Unlock()
	return summary, summary.Err()
}

// Close quits a live helper immediately and stops its server. Operations
// still outstanding are reported as orphaned by the next Finalize.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.cancelQuitLocked()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.detachLocked(s, errors.New("coordinator closed"))
	c.mu.Unlock()

	c.quit(s)
	<-s.done
	return nil
}

func (c *Coordinator) takeSummaryLocked() Summary {
	summary := c.summary
	c.summary = Summary{}
	return summary
}

func (c *Coordinator) armQuitLocked() {
	c.generation++
	gen := c.generation
	c.quitTimer = time.AfterFunc(c.cfg.QuitDelay(), func() {
		c.quitFired(gen)
	})
}

func (c *Coordinator) cancelQuitLocked() {
	c.generation++
	if c.quitTimer != nil {
		c.quitTimer.Stop()
		c.quitTimer = nil
	}
}

func (c *Coordinator) quitFired(gen uint64) {
	c.mu.Lock()
	s := c.session
	if gen != c.generation || s == nil || c.state != StateDraining || len(s.outstanding) > 0 {
		c.mu.Unlock()
		return
	}
	c.quitTimer = nil
	c.detachLocked(s, nil)
	c.mu.Unlock()

	c.quit(s)
}

// detachLocked ends s as the live session. Outstanding operations are
// recorded as orphaned with cause.
func (c *Coordinator) detachLocked(s *session, cause error) {
	s.ended = true
	for _, op := range s.drain() {
		c.orphanLocked(op, cause)
	}
	if c.session == s {
		c.session = nil
		c.state = StateIdle
	}
}

func (c *Coordinator) quit(s *session) {
	if err := s.conn.Send(ipc.Quit()); err != nil {
		c.logger.Debug("quit not delivered", logging.String(logging.FieldChannelID, s.channelID), logging.Error(err))
	} else {
		c.metrics.QuitSent()
		c.logger.Debug("quit sent", logging.String(logging.FieldChannelID, s.channelID))
	}
	c.stopSession(s)
}

func (c *Coordinator) stopSession(s *session) {
	s.stopOnce.Do(func() {
		c.stopServer(s.server)
		c.metrics.SessionEnded()
	})
}

func (c *Coordinator) stopServer(server *ipc.Server) {
	server.Close()
	c.metrics.ServerStopped()
}

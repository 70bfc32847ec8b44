package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"symdeploy/internal/ipc"
	"symdeploy/internal/linkops"
	"symdeploy/internal/logging"
	"symdeploy/internal/metrics"
)

type pendingOp struct {
	num          uint64
	kind         string
	source       string
	destination  string
	dispatchedAt time.Time
	notSupported bool
}

// session is one connected helper. Fields other than channelID, server,
// conn and done are guarded by the coordinator mutex.
type session struct {
	channelID string
	server    *ipc.Server
	conn      *ipc.Conn

	outstanding map[uint64]*pendingOp
	// idle is closed while outstanding is empty.
	idle  chan struct{}
	ended bool

	done     chan struct{}
	stopOnce sync.Once
}

func newSession(channelID string, server *ipc.Server, conn *ipc.Conn) *session {
	idle := make(chan struct{})
	close(idle)
	return &session{
		channelID:   channelID,
		server:      server,
		conn:        conn,
		outstanding: make(map[uint64]*pendingOp),
		idle:        idle,
		done:        make(chan struct{}),
	}
}

func (s *session) add(op *pendingOp) {
	if len(s.outstanding) == 0 {
		s.idle = make(chan struct{})
	}
	s.outstanding[op.num] = op
}

func (s *session) remove(num uint64) *pendingOp {
	op, ok := s.outstanding[num]
	if !ok {
		return nil
	}
	delete(s.outstanding, num)
	if len(s.outstanding) == 0 {
		close(s.idle)
	}
	return op
}

// drain removes every outstanding operation in dispatch order.
func (s *session) drain() []*pendingOp {
	if len(s.outstanding) == 0 {
		return nil
	}
	ops := make([]*pendingOp, 0, len(s.outstanding))
	for _, op := range s.outstanding {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].num < ops[j].num })
	clear(s.outstanding)
	close(s.idle)
	return ops
}

func (c *Coordinator) read(s *session) {
	defer close(s.done)
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ipc.ErrProtocol) {
				err = fmt.Errorf("helper connection lost: %w", err)
			}
			c.disconnected(s, err)
			return
		}

		switch msg.Type {
		case ipc.TypeCompleted:
			c.complete(s, msg)
		case ipc.TypeReport:
			c.report(s, msg)
		case ipc.TypeLog:
			c.forwardLog(s.channelID, msg)
		case ipc.TypeError:
			logging.ErrorWithContext(c.helper, "elevated helper failed", "helper_error",
				logging.String(logging.FieldChannelID, s.channelID),
				logging.String("helper_error", msg.Message))
		case ipc.TypeDisconnect:
			c.disconnected(s, errors.New("helper sent disconnect"))
			return
		case ipc.TypeInitialised:
			c.logger.Warn("duplicate initialised ignored", logging.String(logging.FieldChannelID, s.channelID))
		}
	}
}

func (c *Coordinator) complete(s *session, msg ipc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := s.remove(msg.Num)
	if op == nil {
		c.logger.Warn("completion for unknown operation",
			logging.String(logging.FieldChannelID, s.channelID),
			logging.Uint64(logging.FieldNum, msg.Num))
		return
	}

	now := time.Now()
	result := Result{
		Num:         op.num,
		Kind:        op.kind,
		Source:      op.source,
		Destination: op.destination,
		CompletedAt: now,
		Elapsed:     now.Sub(op.dispatchedAt),
	}
	outcome := metrics.ResultOK
	if msg.Err != nil {
		notSupported := op.notSupported || msg.Err.Code == linkops.CodeNotSupported
		result.Err = &OperationError{
			Num:          op.num,
			Kind:         op.kind,
			Source:       op.source,
			Destination:  op.destination,
			Code:         msg.Err.Code,
			Message:      msg.Err.Message,
			NotSupported: notSupported,
		}
		outcome = metrics.ResultFailed
		if notSupported {
			outcome = metrics.ResultNotSupported
		}
		c.logger.Debug("operation failed",
			logging.String("kind", op.kind),
			logging.Uint64(logging.FieldNum, op.num),
			logging.String(logging.FieldDestination, op.destination),
			logging.String("code", msg.Err.Code),
			logging.Bool("not_supported", notSupported))
	}
	c.summary.record(result)
	c.metrics.ObserveOperation(op.kind, outcome, result.Elapsed)
}

func (c *Coordinator) report(s *session, msg ipc.Message) {
	if msg.Kind != ipc.ReportNotSupported {
		c.logger.Debug("ignoring helper report", logging.String("kind", msg.Kind))
		return
	}
	c.mu.Lock()
	if op, ok := s.outstanding[msg.Num]; ok {
		op.notSupported = true
	}
	c.mu.Unlock()
	logging.WarnWithContext(c.logger, "filesystem does not support symbolic links", "symlink_not_supported",
		logging.String(logging.FieldDestination, msg.Destination),
		logging.String(logging.FieldImpact, "file was not deployed"),
		logging.String(logging.FieldErrorHint, "deploy to an NTFS volume or use a copy based deployment"))
}

// forwardLog re-emits a helper record through the host logger.
func (c *Coordinator) forwardLog(channelID string, msg ipc.Message) {
	level := logging.ParseLevel(msg.Level)
	if !c.helper.Enabled(context.Background(), level) {
		return
	}
	keys := make([]string, 0, len(msg.Meta))
	for key := range msg.Meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys)+1)
	if channelID != "" {
		attrs = append(attrs, logging.String(logging.FieldChannelID, channelID))
	}
	for _, key := range keys {
		if key == logging.FieldChannelID && channelID != "" {
			continue
		}
		attrs = append(attrs, logging.Any(key, msg.Meta[key]))
	}
	c.helper.LogAttrs(context.Background(), level, msg.Message, attrs...)
}

// disconnected handles the end of the reader. A session already detached by
// quit or Close ends quietly.
func (c *Coordinator) disconnected(s *session, cause error) {
	c.mu.Lock()
	if s.ended {
		c.mu.Unlock()
		c.stopSession(s)
		return
	}
	orphaned := len(s.outstanding)
	if c.session == s {
		c.cancelQuitLocked()
	}
	c.detachLocked(s, cause)
	c.mu.Unlock()

	logging.WarnWithContext(c.logger, "elevated helper disconnected", "helper_disconnected",
		logging.String(logging.FieldChannelID, s.channelID),
		logging.Int("orphaned_operations", orphaned),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "pending link operations were not confirmed"),
		logging.String(logging.FieldErrorHint, "run the command again to retry the failed files"))
	c.stopSession(s)
}

func (c *Coordinator) orphanLocked(op *pendingOp, cause error) {
	message := "helper exited before replying"
	if cause != nil {
		message = cause.Error()
	}
	now := time.Now()
	result := Result{
		Num:         op.num,
		Kind:        op.kind,
		Source:      op.source,
		Destination: op.destination,
		CompletedAt: now,
		Elapsed:     now.Sub(op.dispatchedAt),
		Err: &OperationError{
			Num:         op.num,
			Kind:        op.kind,
			Source:      op.source,
			Destination: op.destination,
			Code:        CodeDisconnected,
			Message:     message,
		},
	}
	c.summary.record(result)
	c.metrics.ObserveOperation(op.kind, metrics.ResultOrphaned, result.Elapsed)
}

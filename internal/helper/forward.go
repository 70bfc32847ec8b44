package helper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"symdeploy/internal/ipc"
)

// ForwardHandler is a slog.Handler that ships records to the host as log
// messages. The host re-emits them through its own handlers.
type ForwardHandler struct {
	out   ipc.Sender
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewForwardHandler forwards records at or above level through out.
func NewForwardHandler(out ipc.Sender, level slog.Leveler) *ForwardHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ForwardHandler{out: out, level: level}
}

func (h *ForwardHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ForwardHandler) Handle(_ context.Context, record slog.Record) error {
	meta := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		addMeta(meta, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addMeta(meta, h.group, attr)
		return true
	})
	if len(meta) == 0 {
		meta = nil
	}
	return h.out.Send(ipc.Message{
		Type:    ipc.TypeLog,
		Level:   strings.ToLower(record.Level.String()),
		Message: record.Message,
		Meta:    meta,
	})
}

func (h *ForwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.group != "" {
			attr.Key = h.group + "." + attr.Key
		}
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

func (h *ForwardHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func addMeta(meta map[string]any, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	switch attr.Value.Kind() {
	case slog.KindGroup:
		for _, child := range attr.Value.Group() {
			addMeta(meta, key, child)
		}
	case slog.KindDuration:
		meta[key] = attr.Value.Duration().String()
	case slog.KindTime:
		meta[key] = attr.Value.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		switch v := attr.Value.Any().(type) {
		case error:
			meta[key] = v.Error()
		case fmt.Stringer:
			meta[key] = v.String()
		default:
			meta[key] = v
		}
	default:
		meta[key] = attr.Value.Any()
	}
}

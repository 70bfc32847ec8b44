package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a record for filtering (e.g. "elevation_declined").
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step a user can take after a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldChannelID identifies one elevated helper session.
	FieldChannelID = "channel_id"
	// FieldGame is the game id a deployment targets.
	FieldGame = "game"
	// FieldNum correlates an operation with its completion.
	FieldNum = "num"
	// FieldSource is the staged file a link points to.
	FieldSource = "source"
	// FieldDestination is the path of a link inside the game directory.
	FieldDestination = "destination"
)

type contextKey int

const (
	channelIDKey contextKey = iota
	gameKey
)

// WithChannelID records the helper session id on ctx.
func WithChannelID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, channelIDKey, id)
}

// WithGame records the game id on ctx.
func WithGame(ctx context.Context, game string) context.Context {
	return context.WithValue(ctx, gameKey, game)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(channelIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldChannelID, id))
	}
	if game, ok := ctx.Value(gameKey).(string); ok && game != "" {
		fields = append(fields, slog.String(FieldGame, game))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}

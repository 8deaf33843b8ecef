package pipelinekit

import (
	"context"
	"log/slog"
)

type loggerCtxKey struct{}

// WithLogger attaches a logger to ctx for retrieval by LogInfo and friends.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

func loggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// appendCommandFields prepends command_id/correlation_id to args if cc
// carries them, mirroring the teacher's appendContextFields.
func appendCommandFields(cc *CommandContext, args []any) []any {
	if cc == nil {
		return args
	}
	fields := make([]any, 0, len(args)+4)
	if cc.metadata.CommandID != [16]byte{} {
		fields = append(fields, slog.String("command_id", cc.metadata.CommandID.String()))
	}
	if cc.metadata.CorrelationID != "" {
		fields = append(fields, slog.String("correlation_id", cc.metadata.CorrelationID))
	}
	return append(fields, args...)
}

// LogInfo logs at Info level, enriching the message with the command
// context's identifiers when cc is non-nil.
func LogInfo(ctx context.Context, cc *CommandContext, msg string, args ...any) {
	logger := loggerFromContext(ctx)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}
	logger.InfoContext(ctx, msg, appendCommandFields(cc, args)...)
}

// LogDebug logs at Debug level.
func LogDebug(ctx context.Context, cc *CommandContext, msg string, args ...any) {
	logger := loggerFromContext(ctx)
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	logger.DebugContext(ctx, msg, appendCommandFields(cc, args)...)
}

// LogWarn logs at Warn level.
func LogWarn(ctx context.Context, cc *CommandContext, msg string, args ...any) {
	logger := loggerFromContext(ctx)
	if !logger.Enabled(ctx, slog.LevelWarn) {
		return
	}
	logger.WarnContext(ctx, msg, appendCommandFields(cc, args)...)
}

// LogError logs at Error level.
func LogError(ctx context.Context, cc *CommandContext, msg string, args ...any) {
	logger := loggerFromContext(ctx)
	if !logger.Enabled(ctx, slog.LevelError) {
		return
	}
	logger.ErrorContext(ctx, msg, appendCommandFields(cc, args)...)
}

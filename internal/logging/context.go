package logging

import (
	"context"
	"fmt"
	"log/slog"

	slogcontext "github.com/veqryn/slog-context"
)

func ContextWithLogger(parentCtx context.Context, logger *slog.Logger) context.Context {
	return slogcontext.NewCtx(parentCtx, logger)
}

// ContextLogger returns the logger associated with the given context, or
// the default logger if there isn't one.
func ContextLogger(ctx context.Context) *slog.Logger {
	return slogcontext.FromCtx(ctx)
}

func ContextLoggerRequest(ctx context.Context, f string, args ...any) (*slog.Logger, func()) {
	logger := ContextLogger(ctx)
	reqType := fmt.Sprintf(f, args...)
	logger.Info("BEGIN " + reqType)
	return logger, func() {
		logger.Info("END " + reqType)
	}
}

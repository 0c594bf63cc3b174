package context

import (
	"context"
	"os"

	"github.com/go-kit/log"
)

type contextKey int

const (
	loggerKey contextKey = iota
)

var (
	defaultLogger = log.NewLogfmtLogger(os.Stderr)
)

func WithLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func Logger(ctx context.Context) log.Logger {
	if logger, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return logger
	}
	return defaultLogger
}

// WithFields returns a context whose logger carries keyvals on every line.
func WithFields(ctx context.Context, keyvals ...interface{}) context.Context {
	return WithLogger(ctx, log.With(Logger(ctx), keyvals...))
}

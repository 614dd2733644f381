package rstate

import (
	"github.com/rs/zerolog"
)

// Logger is the logging interface used by containers and registries.
// *slog.Logger satisfies it as well as the zerolog adapter below.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// zerologLogger adapts a zerolog.Logger to Logger. Arguments are alternating
// key/value pairs.
type zerologLogger struct {
	zlog zerolog.Logger
}

// NewZerologLogger wraps zlog so it can be passed to WithLogger.
func NewZerologLogger(zlog zerolog.Logger) Logger {
	return &zerologLogger{zlog: zlog}
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &zerologLogger{zlog: zerolog.Nop()}
}

func (l *zerologLogger) Debug(msg string, args ...any) {
	l.zlog.Debug().Fields(args).Msg(msg)
}

func (l *zerologLogger) Info(msg string, args ...any) {
	l.zlog.Info().Fields(args).Msg(msg)
}

func (l *zerologLogger) Error(msg string, args ...any) {
	l.zlog.Error().Fields(args).Msg(msg)
}

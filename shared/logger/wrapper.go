package logger

import (
	"github.com/sirupsen/logrus"
)

type logWrapper struct {
	entry entryLogger
}

func newWrapper(entry entryLogger) Logger {
	return &logWrapper{entry: entry}
}

// withCtx returns the underlying entry with all provided ctx applied as fields.
func (lw *logWrapper) withCtx(ctx ...Ctx) entryLogger {
	entry := lw.entry
	for _, c := range ctx {
		entry = entry.WithFields(logrus.Fields(c))
	}

	return entry
}

func (lw *logWrapper) Error(msg string, ctx ...Ctx) {
	lw.withCtx(ctx...).Error(msg)
}

func (lw *logWrapper) Warn(msg string, ctx ...Ctx) {
	lw.withCtx(ctx...).Warn(msg)
}

func (lw *logWrapper) Info(msg string, ctx ...Ctx) {
	lw.withCtx(ctx...).Info(msg)
}

func (lw *logWrapper) Debug(msg string, ctx ...Ctx) {
	lw.withCtx(ctx...).Debug(msg)
}

// AddContext returns a derived logger that carries ctx on every message.
func (lw *logWrapper) AddContext(ctx Ctx) Logger {
	return &logWrapper{entry: lw.withCtx(ctx)}
}

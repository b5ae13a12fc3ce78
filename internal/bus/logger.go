package bus

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// slogAdapter satisfies watermill.LoggerAdapter on top of log/slog, so the
// bus logs through the same sink as the rest of the process instead of
// watermill's own stdlib logger.
type slogAdapter struct {
	base *slog.Logger
}

// NewWatermillLogger adapts base for use as a watermill.LoggerAdapter.
func NewWatermillLogger(base *slog.Logger) watermill.LoggerAdapter {
	return slogAdapter{base: base.With("component", "bus")}
}

func (l slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.base.Error(msg, append(toArgs(fields), "err", err)...)
}

func (l slogAdapter) Info(msg string, fields watermill.LogFields) {
	l.base.Info(msg, toArgs(fields)...)
}

func (l slogAdapter) Debug(msg string, fields watermill.LogFields) {
	l.base.Debug(msg, toArgs(fields)...)
}

func (l slogAdapter) Trace(msg string, fields watermill.LogFields) {
	l.base.Debug(msg, toArgs(fields)...)
}

func (l slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return slogAdapter{base: l.base.With(toArgs(fields)...)}
}

func toArgs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

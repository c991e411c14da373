package tkv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// badgerLogger routes badger's printf-style output into slog. Badger
// terminates most messages with a newline, which is stripped.
type badgerLogger struct {
	slogger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func newBadgerLogger(slogger *slog.Logger) *badgerLogger {
	return &badgerLogger{slogger: slogger.With("engine", EngineBadger)}
}

func (b *badgerLogger) log(level slog.Level, format string, args ...interface{}) {
	if !b.slogger.Enabled(context.Background(), level) {
		return
	}
	b.slogger.Log(context.Background(), level, strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.log(slog.LevelError, format, args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.log(slog.LevelWarn, format, args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.log(slog.LevelInfo, format, args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.log(slog.LevelDebug, format, args...)
}

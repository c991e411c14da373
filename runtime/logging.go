package runtime

import (
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"

	"github.com/InsulaLabs/fleet/config"
)

// ParseLevel maps a config level name onto slog. Unknown names are reported
// with ok=false and map to info.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger builds the process logger for the configured format. pretty uses
// charmbracelet/log as the slog handler.
func NewLogger(cfg config.Logging, w io.Writer) (*slog.Logger, slog.Level) {
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		color.HiYellow("Unknown logging level: %s, defaulting to info", cfg.Level)
	}

	var handler slog.Handler
	switch cfg.Format {
	case config.LogFormatText:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case config.LogFormatPretty:
		handler = charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(level),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler), level
}

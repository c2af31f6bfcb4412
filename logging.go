package wskit

import (
	"log/slog"
	"strings"
)

// LevelTrace is a custom log level below Debug. The router logs Context
// calls that become no-ops on an already closed connection at this
// level.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts a string to a slog.Level. Supported values:
// trace, debug, info, warn, error (case-insensitive).
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, &unknownLevelError{s}
	}
}

type unknownLevelError struct{ raw string }

func (e *unknownLevelError) Error() string {
	return "wskit: unknown log level " + e.raw + " (valid: trace, debug, info, warn, error)"
}

// ReplaceLogLevelNames renders LevelTrace as "TRACE" in slog output
// instead of the default "DEBUG-8".
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a logger writing to w at the given level, which is one of
// "debug", "info", "warn" or "error", in either "text" or "json" format.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(strings.ToLower(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q; must be \"text\" or \"json\"", format)
	}
}

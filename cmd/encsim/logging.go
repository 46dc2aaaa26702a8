package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/jiyeyuran/videoencoder/config"
	"github.com/mattn/go-isatty"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatAuto = "auto"
)

// newLogger builds a slog handler from cfg and exposes it as a logr.Logger.
// Debug level also enables V(1) messages.
func newLogger(cfg config.LogConfig, w io.Writer) logr.Logger {
	return logr.FromSlogHandler(newHandler(cfg, w))
}

func newHandler(cfg config.LogConfig, w io.Writer) slog.Handler {
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == formatAuto || format == "" {
		format = formatJSON
		if isTerminal(w) {
			format = formatText
		}
	}
	if format == formatText {
		return slog.NewTextHandler(w, options)
	}
	return slog.NewJSONHandler(w, options)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

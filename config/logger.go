package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

func logColors(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
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

// NewLogger builds the process logger: coloured console output, plus a
// rotating JSON file when LOG_FILE is set.
func NewLogger(cfg *Config, out io.Writer) *slog.Logger {
	level := parseLevel(cfg.LogLevel)

	console := tint.NewHandler(out, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if _, ok := attr.Value.Any().(error); attr.Key == "err" || ok {
				return tint.Attr(9, attr)
			}
			return attr
		},
		TimeFormat: time.RFC3339,
		NoColor:    !logColors(out),
	})

	if cfg.LogFile == "" {
		return slog.New(console)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	jsonHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})

	return slog.New(slogmulti.Fanout(console, jsonHandler))
}

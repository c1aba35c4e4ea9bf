package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions controls SetupLogging. Zero values give info-level text on stdout.
type LogOptions struct {
	Level      string // debug|info|warn|error
	Format     string // text|json
	File       string // optional rotated log file, written in addition to stdout
	MaxSizeMB  int
	MaxBackups int
}

// LogOptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_FILE, LOG_FILE_MAX_MB and LOG_FILE_MAX_BACKUPS.
func LogOptionsFromEnv() LogOptions {
	return LogOptions{
		Level:      os.Getenv("LOG_LEVEL"),
		Format:     os.Getenv("LOG_FORMAT"),
		File:       os.Getenv("LOG_FILE"),
		MaxSizeMB:  atoiDefault(os.Getenv("LOG_FILE_MAX_MB"), 20),
		MaxBackups: atoiDefault(os.Getenv("LOG_FILE_MAX_BACKUPS"), 3),
	}
}

// ParseLevel maps a level name to slog.Level. ok is false for unknown names.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "info", "":
		return slog.LevelInfo, true
	}
	return slog.LevelInfo, false
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, opts LogOptions) *slog.Logger {
	lvl, _ := ParseLevel(opts.Level)
	ho := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// SetupLogging installs the default slog logger and returns a closer for the log file, if any.
func SetupLogging(opts LogOptions) io.Closer {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}
	logger := NewLogger(w, opts)
	slog.SetDefault(logger)
	if _, ok := ParseLevel(opts.Level); !ok {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", opts.Level))
	}
	format := "text"
	if strings.EqualFold(opts.Format, "json") {
		format = "json"
	}
	logger.Info("logger initialized", slog.String("format", format), slog.String("file", opts.File))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

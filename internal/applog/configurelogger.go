// Package applog configures the process-wide slog logger from the
// log_level/log_file preferences.
package applog

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure sets the default slog logger for the given level and optional
// output file. Valid levels are "none", "error", "warn", "info", "debug".
// logFile may be empty, in which case the logger writes to stdout as text;
// a non-empty path gets a JSON handler instead, since a log file is more
// likely to be machine-read than a terminal.
//
// Returns the *os.File the logger now owns, if any, so the caller can
// close it on shutdown.
func Configure(logLevel string, logFile string, opts slog.HandlerOptions) (*os.File, error) {
	switch logLevel {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("applog: unrecognized log level " + logLevel)
	}

	var file *os.File
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		file = f
		handler = slog.NewJSONHandler(file, &opts)
	}

	slog.SetDefault(slog.New(handler))
	return file, nil
}

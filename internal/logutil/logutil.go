// Package logutil configures the process-wide structured logger.
package logutil

import (
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Init routes slog output to a size-rotated log file and installs the
// resulting logger as the process default.
func Init(logFilePath string) *slog.Logger {
	w := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	slog.SetDefault(l)

	return l
}

// Package observability sets up the process-wide logger and tracer.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger installs the global logger. Records are printed to stdout in
// console form and, when logFile is set, appended as JSON lines to a
// size-rotated file.
func InitLogger(level string, logFile string) {
	lvl := parseLogLevel(level)
	zerolog.SetGlobalLevel(lvl)

	log.Logger = zerolog.New(logOutput(os.Stdout, logFile)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	log.Info().
		Str("level", lvl.String()).
		Str("log_file", logFile).
		Msg("Logger initialized")
}

func logOutput(console io.Writer, logFile string) io.Writer {
	out := zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	if logFile == "" {
		return out
	}
	return zerolog.MultiLevelWriter(out, &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
}

// parseLogLevel accepts zerolog level names plus "warning". Anything else
// means info.
func parseLogLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

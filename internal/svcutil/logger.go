package svcutil

import (
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"
)

var logLevelsByName = map[string]slog.Level{
	"error": slog.LevelError,
	"warn":  slog.LevelWarn,
	"info":  slog.LevelInfo,
	"debug": slog.LevelDebug,
}

// ConfigLogger builds a JSON-handler slog.Logger whose level comes from the
// command's "log-level" flag, installs it as the package-level default, and
// returns it so callers can also hold it directly. An unrecognized or empty
// flag value falls back to info.
func ConfigLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	level, ok := logLevelsByName[strings.ToLower(cctx.String("log-level"))]
	if !ok {
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

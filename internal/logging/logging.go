package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var (
	logger *slog.Logger

	programLevel = new(slog.LevelVar) // Info by default
)

func init() {
	SetOutput(os.Stderr)
}

// SetOutput redirects all log records to w.
func SetOutput(w io.Writer) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: programLevel}))
}

// SetDebug toggles between debug and info level.
func SetDebug(on bool) {
	if on {
		programLevel.Set(slog.LevelDebug)
		return
	}
	programLevel.Set(slog.LevelInfo)
}

func Infof(format string, v ...interface{}) {
	logger.Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	logger.Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) {
	logger.Error(fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...interface{}) {
	logger.Debug(fmt.Sprintf(format, v...))
}

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// LogFilePrefix names the per-session log files.
const LogFilePrefix = "livemap_relay"

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, prefix string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", prefix, sessionStart.Format("20060102_150405")),
	)
}

// OpenSessionFile creates logsDir if needed and opens a fresh session log.
func OpenSessionFile(logsDir string, sessionStart time.Time) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	path := LogFilePath(logsDir, LogFilePrefix, sessionStart)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, nil
}

// NewGraylogWriter dials the GELF UDP endpoint.
func NewGraylogWriter(address string) (io.WriteCloser, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, fmt.Errorf("gelf writer %s: %w", address, err)
	}
	return w, nil
}

// ClientCountContext returns a ContextProvider that tags records with the
// number of connected clients.
func ClientCountContext(count func() int64) ContextProvider {
	return func() []slog.Attr {
		return []slog.Attr{slog.Int64("clients", count())}
	}
}

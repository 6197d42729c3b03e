// ABOUTME: Logging setup for the soundboard binaries
// ABOUTME: Sets the charmbracelet/log level and routes output to a file and optionally stdout
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ParseLevel converts a config level name into a log level
func ParseLevel(level string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return log.InfoLevel, nil
	case "trace", "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Setup configures the default logger. Logs go to file when set and are
// mirrored to stdout when toStdout is true; in TUI mode only the file is
// written. The returned closer releases the log file.
func Setup(level, file string, toStdout bool) (io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if file != "" {
		f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if toStdout {
		writers = append(writers, os.Stdout)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl,
	})
	log.SetDefault(logger)

	log.Debug("Logging initialized", "level", lvl, "file", file, "stdout", toStdout)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

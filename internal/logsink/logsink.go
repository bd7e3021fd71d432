// Package logsink implements the rotating text-log sink of spec.md §6
// ("log_files/quic-lab.log[.N]"), wrapping [rotate.Writer] behind an
// io.Writer view the way internal/keylog wraps it behind a per-connection
// view, so it can be assigned directly as a [log/slog.Handler]'s output.
package logsink

import (
	"fmt"

	"github.com/QUIC-Lab/quic-lab/internal/rotate"
)

// Sink is the process-wide rotating text-log writer.  It implements
// io.Writer and is safe for concurrent use.
type Sink struct {
	writer *rotate.Writer
}

// Config configures a [*Sink].
type Config struct {
	// BasePath is the base path of the rotating log file
	// (spec.md §6: "log_files/quic-lab.log").
	BasePath string

	// MaxBytes bounds each log file's size (spec.md §4.1).
	MaxBytes int64
}

// New creates a *Sink for cfg.
func New(cfg *Config) (s *Sink, err error) {
	w, err := rotate.New(&rotate.Config{
		BasePath: cfg.BasePath,
		MaxBytes: cfg.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating log rotating writer: %w", err)
	}

	return &Sink{writer: w}, nil
}

// Write implements io.Writer, appending p as a single record.  Each call to
// a [log/slog.Handler]'s underlying writer is already one complete,
// newline-terminated log line.
func (s *Sink) Write(p []byte) (n int, err error) {
	err = s.writer.Write(p)
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close flushes and closes the underlying rotating file.
func (s *Sink) Close() error {
	return s.writer.Close()
}

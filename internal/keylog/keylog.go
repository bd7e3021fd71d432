// Package keylog implements the TLS keylog sink (spec.md §4.5): a thin
// RotatingWriter-backed writer of NSS-style keylog lines, shared by every
// connection but exposing a per-connection view so drivers never need to
// know about rotation or serialization.
package keylog

import (
	"fmt"

	"github.com/QUIC-Lab/quic-lab/internal/rotate"
)

// Sink is the process-wide TLS keylog writer.  All of its methods are safe
// for concurrent use.
type Sink struct {
	writer *rotate.Writer
}

// Config configures a [*Sink].
type Config struct {
	// BasePath is the base path of the rotating keylog file
	// (spec.md §6: "keylog_files/quic-lab.keylog").
	BasePath string

	// MaxBytes bounds each keylog file's size (spec.md §4.1).
	MaxBytes int64
}

// New creates a *Sink for cfg.
func New(cfg *Config) (s *Sink, err error) {
	w, err := rotate.New(&rotate.Config{
		BasePath: cfg.BasePath,
		MaxBytes: cfg.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating keylog rotating writer: %w", err)
	}

	return &Sink{writer: w}, nil
}

// ForConn returns a [PerConnKeylog] writing into s.  Nothing is prefixed to
// the lines written through it: NSS keylog lines are self-describing
// (label, client random, secret).
func (s *Sink) ForConn() *PerConnKeylog {
	return &PerConnKeylog{sink: s}
}

// Write appends a single NSS keylog line (already formatted by the caller as
// "<label> <client-random-hex> <secret-hex>") to the current file, adding
// the trailing newline if absent.
func (s *Sink) Write(line string) (err error) {
	b := []byte(line)
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}

	return s.writer.Write(b)
}

// Close flushes and closes the underlying rotating file.
func (s *Sink) Close() error {
	return s.writer.Close()
}

// PerConnKeylog is the per-connection view of a shared [*Sink], used as
// quic-go's qtls KeyLogWriter for a single connection.  It implements
// io.Writer so it can be assigned directly to tls.Config.KeyLogWriter;
// qtls already formats each call as one complete NSS line.
type PerConnKeylog struct {
	sink *Sink
}

// Write implements io.Writer, forwarding b to the shared sink, which adds a
// trailing newline only if b lacks one.  qtls calls Write once per line,
// already newline-terminated.
func (p *PerConnKeylog) Write(b []byte) (n int, err error) {
	err = p.sink.Write(string(b))
	if err != nil {
		return 0, err
	}

	return len(b), nil
}

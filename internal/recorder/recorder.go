// Package recorder implements the JSONL probe-record writer (spec.md §4.6),
// adapted from the pooled-buffer encoding shape of
// internal/querylog.FileSystem.Write, targeting the generic {"key","value"}
// envelope instead of a fixed query-log schema and writing through a
// RotatingWriter instead of a single file opened per write.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/optslog"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/rotate"
)

// Recorder is the process-wide JSONL probe-record writer.  All of its
// methods are safe for concurrent use.
type Recorder struct {
	logger *slog.Logger

	// bufPool avoids a bytes.Buffer allocation on every Record call.
	bufPool *syncutil.Pool[bytes.Buffer]

	writer *rotate.Writer
}

// Config configures a [*Recorder].
type Config struct {
	// Logger is used for debug logging.  Must not be nil.
	Logger *slog.Logger

	// BasePath is the base path of the rotating recorder file
	// (spec.md §6: "recorder_files/quic-lab-recorder.jsonl").
	BasePath string

	// MaxBytes bounds each recorder file's size (spec.md §4.1).
	MaxBytes int64
}

// New creates a *Recorder for cfg.
func New(cfg *Config) (r *Recorder, err error) {
	w, err := rotate.New(&rotate.Config{
		BasePath: cfg.BasePath,
		MaxBytes: cfg.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating recorder rotating writer: %w", err)
	}

	return &Recorder{
		logger: cfg.Logger,
		bufPool: syncutil.NewPool(func() (v *bytes.Buffer) {
			return &bytes.Buffer{}
		}),
		writer: w,
	}, nil
}

// Record serializes rec as a single JSON object followed by LF and appends
// it to the current file.  Concurrent calls are serialized by the
// underlying RotatingWriter.  On any write error the record is dropped and
// logged, matching the "sink errors are logged, dropped" propagation policy
// of spec.md §7; callers that need stronger guarantees should check the
// returned error themselves.
func (r *Recorder) Record(ctx context.Context, rec agd.ProbeRecord) (err error) {
	optslog.Trace1(ctx, r.logger, "writing recorder entry", "key", rec.Key)

	buf := r.bufPool.Get()
	defer r.bufPool.Put(buf)
	buf.Reset()

	// Encode adds the trailing line feed for us.
	err = json.NewEncoder(buf).Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding probe record: %w", err)
	}

	err = r.writer.Write(buf.Bytes())
	if err != nil {
		r.logger.ErrorContext(ctx, "writing recorder entry", slogutil.KeyError, err)

		return fmt.Errorf("writing probe record: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying rotating file.
func (r *Recorder) Close() error {
	return r.writer.Close()
}

// Package qlogmux implements the global qlog aggregator (spec.md §4.4): a
// single writer that accepts streaming events from many connection drivers
// and interleaves them into one JSON-Seq stream, enforcing per-group
// monotonic timestamps and optional minimization.
package qlogmux

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/QUIC-Lab/quic-lab/internal/rotate"
)

// recordSeparator is the JSON-Seq record separator byte, RFC 7464.
const recordSeparator = 0x1e

// epsilon is the minimum positive time delta the mux enforces between two
// events of the same group (spec.md §3/§4.4).
const epsilon = 1e-6

// unknownGroup is the default group_id assigned to events that arrive
// without one (spec.md §4.4 ¶2).
const unknownGroup = "unknown"

// Event is a single qlog record (spec.md §3).
type Event struct {
	// Data is the event's "data" payload, kept as a raw JSON object so
	// the mux never needs a schema for every qlog event name.
	Data json.RawMessage

	// Name is the qlog event name, e.g. "quic:packet_sent".
	Name string

	// GroupID links this event to a connection's other artifacts.  If
	// empty, it is defaulted to "unknown".
	GroupID string

	// Time is the event timestamp in milliseconds, relative to the
	// connection's reference time.
	Time float64
}

// Header describes the qlog trace header emitted once per file (spec.md
// §4.4 ¶1, §6).
type Header struct {
	Title        string
	Description  string
	CommonFields map[string]any
	VantagePoint string
}

// Mux is the single global qlog multiplexer.  All of its exported methods
// are safe for concurrent use by many connection drivers.
type Mux struct {
	logger   *slog.Logger
	writer   *rotate.Writer
	header   Header
	minimize bool

	mu       sync.Mutex
	lastTime map[string]float64
}

// Config configures a [*Mux].
type Config struct {
	// Logger is used to report dropped-event write errors.  Must not be
	// nil.
	Logger *slog.Logger

	// Header is written once per file.
	Header Header

	// BasePath is the base path of the rotating qlog file
	// (spec.md §6: "qlog_files/quic-lab.sqlog").
	BasePath string

	// MaxBytes bounds each qlog file's size (spec.md §4.1).
	MaxBytes int64

	// Minimize enables the qlog minimization rewrite (spec.md §4.4 ¶3).
	Minimize bool
}

// New creates a *Mux and its underlying rotating file.
func New(cfg *Config) (m *Mux, err error) {
	m = &Mux{
		logger:   cfg.Logger,
		header:   cfg.Header,
		minimize: cfg.Minimize,
		lastTime: make(map[string]float64),
	}

	m.writer, err = rotate.New(&rotate.Config{
		BasePath: cfg.BasePath,
		MaxBytes: cfg.MaxBytes,
		Hook:     m.writeHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qlog rotating writer: %w", err)
	}

	return m, nil
}

// headerRecord is the on-disk shape of the qlog file header.
type headerRecord struct {
	Trace struct {
		VantagePoint struct {
			Type string `json:"type"`
		} `json:"vantage_point"`
		CommonFields map[string]any `json:"common_fields,omitempty"`
	} `json:"trace"`
	QlogVersion string `json:"qlog_version"`
	QlogFormat  string `json:"qlog_format"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// writeHeader is the [rotate.NewFileHook] that emits the header record into
// every new qlog file, including the first (spec.md §4.4 ¶1).
func (m *Mux) writeHeader(w io.Writer) (err error) {
	rec := headerRecord{
		QlogVersion: "0.4",
		QlogFormat:  "JSON-SEQ",
		Title:       m.header.Title,
		Description: m.header.Description,
	}

	vp := m.header.VantagePoint
	if vp == "" {
		vp = "client"
	}
	rec.Trace.VantagePoint.Type = vp
	rec.Trace.CommonFields = m.header.CommonFields

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling qlog header: %w", err)
	}

	_, err = w.Write(frame(b))

	return err
}

// Emit normalizes, optionally minimizes, and writes ev.  On any write
// error, the event is dropped and the error is logged; Emit never panics
// the caller's driver (spec.md §4.4 "Failure").
func (m *Mux) Emit(ctx context.Context, ev Event) {
	if ev.GroupID == "" {
		ev.GroupID = unknownGroup
	}

	ev.Time = m.clampTime(ev.GroupID, ev.Time)

	if m.minimize {
		var ok bool
		ev, ok = Minimize(ev)
		if !ok {
			return
		}
	}

	err := m.write(ev)
	if err != nil {
		m.logger.ErrorContext(ctx, "writing qlog event", slogutil.KeyError, err)
	}
}

// clampTime enforces strict per-group monotonicity: the returned time is
// max(t, last+epsilon) (spec.md §3 invariant).
func (m *Mux) clampTime(groupID string, t float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.lastTime[groupID]
	if ok && t < last+epsilon {
		t = last + epsilon
	}

	m.lastTime[groupID] = t

	return t
}

// wireEvent is the on-disk shape of a single qlog event record.
type wireEvent struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Name    string          `json:"name"`
	GroupID string          `json:"group_id"`
	Time    float64         `json:"time"`
}

// write marshals and frames ev, then appends it through the rotating
// writer.
func (m *Mux) write(ev Event) (err error) {
	b, err := json.Marshal(wireEvent{
		Time:    ev.Time,
		Name:    ev.Name,
		Data:    ev.Data,
		GroupID: ev.GroupID,
	})
	if err != nil {
		return fmt.Errorf("marshaling qlog event: %w", err)
	}

	return m.writer.Write(frame(b))
}

// frame prepends the JSON-Seq record separator and appends a trailing LF
// (spec.md §4.4 ¶4, §6).
func frame(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	out = append(out, recordSeparator)
	out = append(out, b...)
	out = append(out, '\n')

	return out
}

// Close flushes and closes the underlying rotating file.
func (m *Mux) Close() error {
	return m.writer.Close()
}

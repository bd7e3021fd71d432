// Package driver implements the ConnectionDriver (spec.md §4.7): it drives
// exactly one QUIC connection from dial to terminal state, dispatching
// AppProtocol callbacks and bridging quic-go's own qlog/keylog output into
// the shared QlogMux and KeylogSink sinks.
//
// quic-go's Connection already runs the recv/send/on_timeout pump described
// in spec.md §4.7 internally; per the design notes of spec.md §9 ("the
// underlying QUIC engine is treated as an external dependency... everything
// else is glue"), the Driver's job is limited to the externally observable
// lifecycle: dial, wait for handshake confirmation, run the AppProtocol,
// close, and re-frame quic-go's own tracer output onto the shared sinks.
package driver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
	"github.com/quic-go/quic-go/qlog"
	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/agderrors"
	"github.com/QUIC-Lab/quic-lab/internal/keylog"
	"github.com/QUIC-Lab/quic-lab/internal/probe"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
	"github.com/QUIC-Lab/quic-lab/internal/session"
)

// State is one of the ConnectionDriver lifecycle states of spec.md §4.7.
type State string

// State values, in the order a Driver moves through them.
const (
	StateCreated     State = "created"
	StateHandshaking State = "handshaking"
	StateEstablished State = "established"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
)

// probeTimeoutCode is the well-known local close error code issued when an
// attempt's deadline elapses (spec.md §4.7 "Cancellation & timeouts").
const probeTimeoutCode quic.ApplicationErrorCode = 0x50524f42 // "PROB" in ASCII, distinguishing this from 0.

// Driver drives one QUIC connection for one attempt.  A Driver is used for
// exactly one attempt and is not reused (spec.md §3 invariant: "drivers do
// not outlive the attempt").
type Driver struct {
	logger  *slog.Logger
	qlogMux *qlogmux.Mux
	keylog  *keylog.Sink
	session *session.Sink

	state State
}

// Config configures a [*Driver].
type Config struct {
	// Logger is used for debug/error logging.  Must not be nil.
	Logger *slog.Logger

	// QlogMux receives this connection's streaming qlog events, if
	// non-nil.
	QlogMux *qlogmux.Mux

	// Keylog receives this connection's TLS secrets, if non-nil.
	Keylog *keylog.Sink

	// Session receives this connection's session resumption tickets, if
	// non-nil (spec.md §9: experimental, write-only).
	Session *session.Sink
}

// New creates a *Driver in [StateCreated].
func New(cfg *Config) *Driver {
	return &Driver{
		logger:  cfg.Logger,
		qlogMux: cfg.QlogMux,
		keylog:  cfg.Keylog,
		session: cfg.Session,
		state:   StateCreated,
	}
}

// State returns the driver's current lifecycle state.
func (d *Driver) State() State { return d.state }

// Result is what [*Driver.Run] returns once the attempt reaches
// [StateClosed].
type Result struct {
	// TraceID is the connection's stable identifier, used as the
	// ProbeRecord key and the qlog/keylog group tag (spec.md §3 invariant:
	// "A trace_id is emitted in both qlog and recorder... for any probe
	// that completed a handshake").
	TraceID string

	// Outcome is the AppProtocol's reported result.  Zero value if the
	// handshake never completed.
	Outcome probe.Outcome

	// HandshakeOK is true once the connection reached [StateEstablished].
	HandshakeOK bool
}

// Run dials endpoint, waits for handshake confirmation, runs app over the
// established connection, and closes the connection, honoring ctx's
// deadline as the attempt's overall budget (spec.md §4.7 "Cancellation &
// timeouts"). cc.MaxIdleTimeout becomes quic-go's idle timeout; callers
// are expected to derive ctx's deadline from the same budget plus
// cc.DrainGrace().
func (d *Driver) Run(
	ctx context.Context,
	host string,
	endpoint netAddr,
	cc *agd.ConnectionConfig,
	app probe.AppProtocol,
) (res Result, err error) {
	traceID := newTraceID()

	tlsConf := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: !cc.VerifyPeer, //nolint:gosec // explicit probe opt-in, spec.md §3 verify_peer.
		NextProtos:         cc.ALPN,
	}

	var keyWriter *keylog.PerConnKeylog
	if d.keylog != nil {
		keyWriter = d.keylog.ForConn()
		tlsConf.KeyLogWriter = keyWriter
	}

	if d.session != nil {
		tlsConf.ClientSessionCache = d.session.ForConn(host)
	}

	var bridge *qlogBridge
	quicConf := &quic.Config{
		MaxIdleTimeout:                 cc.MaxIdleTimeout,
		MaxAckDelay:                    cc.MaxAckDelay,
		InitialStreamReceiveWindow:     cc.InitialMaxStreamDataBidiRemote,
		InitialConnectionReceiveWindow: cc.InitialMaxData,
		MaxIncomingStreams:             int64(cc.InitialMaxStreamsBidi),
		MaxIncomingUniStreams:          int64(cc.InitialMaxStreamsUni),
		EnableDatagrams:                false,
	}

	if d.qlogMux != nil {
		bridge = newQlogBridge(d.logger, d.qlogMux, traceID)
		quicConf.Tracer = bridge.tracer()
	}

	d.state = StateHandshaking

	conn, err := quic.DialAddrEarly(ctx, endpoint.String(), tlsConf, quicConf)
	if err != nil {
		if bridge != nil {
			bridge.close()
		}

		d.state = StateClosed
		app.OnConnClosed(ctx)

		return res, agderrors.Transport(0, fmt.Errorf("dialing %s: %w", endpoint, err))
	}

	defer func() {
		d.state = StateClosing
		_ = conn.CloseWithError(0, "")
		d.state = StateClosed

		app.OnConnClosed(ctx)

		if bridge != nil {
			bridge.close()
		}
	}()

	select {
	case <-conn.HandshakeComplete():
		d.state = StateEstablished
	case <-ctx.Done():
		closeErr := conn.CloseWithError(probeTimeoutCode, "probe timeout")
		_ = closeErr

		return res, agderrors.Cancelled
	}

	res.TraceID = traceID
	res.HandshakeOK = true

	err = app.OnConnected(ctx, conn)
	res.Outcome = app.Outcome()
	if err != nil {
		d.logger.ErrorContext(ctx, "app protocol error", slogutil.KeyError, err)

		return res, agderrors.Applicationf("running app protocol: %w", err)
	}

	return res, nil
}

// netAddr is the minimal interface the Driver needs from a resolved
// candidate endpoint (satisfied by [net.UDPAddr] and similar).
type netAddr interface {
	String() string
}

// qlogBridge re-frames quic-go's own per-connection qlog stream into the
// shared [*qlogmux.Mux], tagging every event with traceID as its group.
type qlogBridge struct {
	logger  *slog.Logger
	mux     *qlogmux.Mux
	traceID string

	pw *io.PipeWriter
	pr *io.PipeReader

	done chan struct{}
}

// quicGoQlogEvent is the wire shape of a single record written by quic-go's
// qlog tracer.
type quicGoQlogEvent struct {
	Data json.RawMessage `json:"data"`
	Name string          `json:"name"`
	Time float64         `json:"time"`
}

// quicGoQlogHeader detects the header record quic-go writes first, which
// the bridge discards: the shared mux already emits its own header
// (spec.md §3 invariant: "No qlog event is written before the qlog file
// header").
type quicGoQlogHeader struct {
	QlogVersion string `json:"qlog_version"`
}

func newQlogBridge(logger *slog.Logger, mux *qlogmux.Mux, traceID string) *qlogBridge {
	pr, pw := io.Pipe()

	b := &qlogBridge{
		logger:  logger,
		mux:     mux,
		traceID: traceID,
		pw:      pw,
		pr:      pr,
		done:    make(chan struct{}),
	}

	go b.pump()

	return b
}

// tracer returns the quic.Config.Tracer function that writes this
// connection's events into the bridge's pipe via quic-go's own qlog
// encoder.
func (b *qlogBridge) tracer() func(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer {
	return func(_ context.Context, p logging.Perspective, _ quic.ConnectionID) *logging.ConnectionTracer {
		return qlog.NewConnectionTracer(nopWriteCloser{b.pw}, p, quicTraceConnID(b.traceID))
	}
}

// pump reads framed qlog records off the pipe and re-emits them through the
// shared mux until the pipe is closed.  quic-go's qlog encoder uses the same
// JSON-Seq framing as [qlogmux] (spec.md §4.4 ¶4): each record starts with
// 0x1e and ends with '\n'.
func (b *qlogBridge) pump() {
	defer close(b.done)

	r := bufio.NewReader(b.pr)
	for {
		line, err := r.ReadBytes('\n')

		record := bytes.TrimPrefix(bytes.TrimSpace(line), []byte{recordSeparator})
		if len(record) > 0 {
			b.emit(record)
		}

		if err != nil {
			return
		}
	}
}

const recordSeparator = 0x1e

func (b *qlogBridge) emit(raw []byte) {
	var hdr quicGoQlogHeader
	if err := json.Unmarshal(raw, &hdr); err == nil && hdr.QlogVersion != "" {
		return
	}

	var ev quicGoQlogEvent
	err := json.Unmarshal(raw, &ev)
	if err != nil {
		b.logger.ErrorContext(context.Background(), "decoding quic-go qlog record", slogutil.KeyError, err)

		return
	}

	b.mux.Emit(context.Background(), qlogmux.Event{
		Time:    ev.Time,
		Name:    ev.Name,
		Data:    ev.Data,
		GroupID: b.traceID,
	})
}

func (b *qlogBridge) close() {
	_ = b.pw.Close()
	<-b.done
	_ = b.pr.Close()
}

// nopWriteCloser adapts an io.Writer to io.WriteCloser for
// qlog.NewConnectionTracer, which insists on owning a closer; the bridge
// itself owns the pipe's lifecycle and closes it explicitly in close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// quicTraceConnID wraps the first 20 bytes of traceID (the maximum QUIC
// connection ID length) as a [quic.ConnectionID] for
// qlog.NewConnectionTracer.  A longer traceID, such as a UUID string, is
// truncated; the bridge discards quic-go's header record and tags every
// event with the full traceID instead.
func quicTraceConnID(traceID string) (id quic.ConnectionID) {
	b := []byte(traceID)
	if len(b) > 20 {
		b = b[:20]
	}

	return quic.ConnectionIDFromBytes(b)
}

// newTraceID generates a fresh trace identifier.  It is intentionally
// simple: uniqueness across one scheduler run is all spec.md §3 requires.
func newTraceID() string {
	return uuid.NewString()
}

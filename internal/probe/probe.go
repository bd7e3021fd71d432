// Package probe defines the AppProtocol contract (spec.md §2, §4.7, §9):
// the probe-specific callback surface a ConnectionDriver dispatches into,
// and ships the default HTTP/3 implementation.
package probe

import (
	"context"

	"github.com/quic-go/quic-go"
)

// Outcome is what an AppProtocol reports once its connection reaches a
// terminal state.  Success requires both a completed handshake and the
// probe's own success predicate; Value becomes the ProbeRecord's value
// (spec.md §4.8 ¶ "per-domain algorithm", step 2e).
type Outcome struct {
	// Value is opaque to the Recorder and the Driver; it is whatever the
	// probe wants recorded.
	Value any

	// Success is true only when the probe considers the attempt to have
	// fully succeeded.
	Success bool
}

// AppProtocol is the probe-specific callback surface a ConnectionDriver
// drives through a single connection's lifecycle (spec.md §4.7 inputs).
// Implementations are constructed fresh for every attempt; they must not be
// reused across connections.
type AppProtocol interface {
	// OnConnected runs once the underlying QUIC handshake is confirmed
	// (spec.md §4.7 "Handshaking → Established" transition).  The
	// protocol performs its application-layer exchange over conn and
	// returns when done; a returned error is an ApplicationError
	// (spec.md §7) and ends the attempt cleanly.
	OnConnected(ctx context.Context, conn quic.Connection) error

	// Outcome reports the result of the attempt.  The Driver calls it once,
	// after OnConnected returns; it is not called when the connection
	// never reaches Established.
	Outcome() Outcome

	// OnConnClosed runs once the connection has reached Closed (spec.md
	// §4.7 "Closing → Closed" transition). It fires even when OnConnected
	// was never called, i.e. the handshake never completed; the ordering
	// guarantee "on_stream_closed precedes on_conn_closed" binds any
	// stream-level callbacks an implementation adds on top of this
	// contract.
	OnConnClosed(ctx context.Context)
}

// Constructor builds a fresh AppProtocol for one attempt.  Scheduler holds
// one Constructor per configured probe and calls it once per ConnectionConfig
// instantiation (spec.md §4.8 inputs: "probe constructor").
type Constructor func(cfg Config) AppProtocol

// Config is the subset of ConnectionConfig an AppProtocol needs to perform
// its exchange, passed by the Scheduler at construction time.
type Config struct {
	// Host is the original hostname probed, used for the HTTP/3 ":authority"
	// pseudo-header and SNI bookkeeping.
	Host string

	// Path is the request path (spec.md §3 ConnectionConfig.path).
	Path string

	// UserAgent is the User-Agent header value (spec.md §3
	// ConnectionConfig.user_agent).
	UserAgent string
}

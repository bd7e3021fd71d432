package agd

import "time"

// IPVersion constrains which address family the Resolver is allowed to
// return candidates from.
type IPVersion string

// IPVersion values.
const (
	IPVersionAuto IPVersion = "auto"
	IPVersionIPv4 IPVersion = "ipv4"
	IPVersionIPv6 IPVersion = "ipv6"
)

// MultipathAlgorithm selects the scheduling algorithm used across paths when
// multipath QUIC is enabled.
type MultipathAlgorithm string

// MultipathAlgorithm values.
const (
	MultipathMinRTT     MultipathAlgorithm = "minrtt"
	MultipathRoundRobin MultipathAlgorithm = "roundrobin"
	MultipathRedundant  MultipathAlgorithm = "redundant"
)

// ConnectionConfig is an immutable record describing one attempt variant in
// the retry ladder.  All fields come directly from a `[[connection_config]]`
// TOML table; see spec.md §3 and §6.
//
// The Driver applies ALPN, VerifyPeer, MaxIdleTimeout, MaxAckDelay,
// InitialMaxData, InitialMaxStreamDataBidiRemote, InitialMaxStreamsBidi,
// and InitialMaxStreamsUni to the connection; Port, IPVersion, Path, and
// UserAgent are used by the Resolver and the probe.
// InitialMaxStreamDataBidiLocal, InitialMaxStreamDataUni,
// ActiveConnectionIDLimit, SendUDPPayloadSize, MaxReceiveBufferSize,
// EnableMultipath, and MultipathAlgorithm are parsed and carried, but
// nothing in the engine applies them to the connection or its socket.
type ConnectionConfig struct {
	// Path is the request path used by the default HTTP/3 probe, e.g. "/".
	Path string

	// UserAgent is the User-Agent header sent by the default HTTP/3 probe.
	UserAgent string

	// ALPN is the ordered list of ALPN tokens offered during the TLS
	// handshake.  Must not be empty.
	ALPN []string

	// MultipathAlgorithm selects the path scheduler used when
	// EnableMultipath is true.
	MultipathAlgorithm MultipathAlgorithm

	// IPVersion constrains address family selection during resolution.
	IPVersion IPVersion

	// MaxIdleTimeout is the QUIC idle timeout.  It must be greater than
	// zero; spec.md §8 boundary 9 requires config load to reject zero.
	MaxIdleTimeout time.Duration

	// MaxAckDelay bounds the delay the peer may apply to ACKs.  It also
	// determines the default drain grace period (spec.md §5): 5×
	// MaxAckDelay, capped at 2s.
	MaxAckDelay time.Duration

	// InitialMaxData is the connection-level flow control limit.
	InitialMaxData uint64

	// InitialMaxStreamDataBidiLocal is the per-stream flow control limit
	// for bidi streams the endpoint itself opens.
	InitialMaxStreamDataBidiLocal uint64

	// InitialMaxStreamDataBidiRemote is the per-stream flow control limit
	// for bidi streams opened by the peer.
	InitialMaxStreamDataBidiRemote uint64

	// InitialMaxStreamDataUni is the per-stream flow control limit for
	// unidirectional streams.
	InitialMaxStreamDataUni uint64

	// InitialMaxStreamsBidi is the number of concurrent bidi streams the
	// peer is permitted to open.
	InitialMaxStreamsBidi uint64

	// InitialMaxStreamsUni is the number of concurrent uni streams the
	// peer is permitted to open.
	InitialMaxStreamsUni uint64

	// ActiveConnectionIDLimit is the number of connection IDs the peer
	// may issue at once.
	ActiveConnectionIDLimit uint64

	// SendUDPPayloadSize is the maximum size of a UDP datagram this
	// endpoint will send.
	SendUDPPayloadSize uint64

	// MaxReceiveBufferSize is the configured bound on the kernel UDP
	// receive buffer.  The Driver does not request it for its socket.
	MaxReceiveBufferSize uint64

	// Port is the UDP port the Driver dials.
	Port uint16

	// VerifyPeer enables TLS certificate verification.  Probes of
	// self-signed loopback fixtures (see spec.md §8 S1-S6) set this to
	// false.
	VerifyPeer bool

	// EnableMultipath turns on QUIC multipath negotiation.
	EnableMultipath bool
}

// DrainGrace returns the bounded grace period in-flight drivers are given to
// finish closing once a cancellation has been requested (spec.md §5): 5×
// MaxAckDelay, capped at 2s.
func (c *ConnectionConfig) DrainGrace() time.Duration {
	const maxGrace = 2 * time.Second

	grace := 5 * c.MaxAckDelay
	if grace <= 0 || grace > maxGrace {
		return maxGrace
	}

	return grace
}

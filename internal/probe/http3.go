package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// HTTP3Probe is the default AppProtocol (spec.md §2: "HTTP/3 is one
// implementation"): it issues a single GET over the already-established
// connection and considers the attempt successful when the response status
// is below 500.
type HTTP3Probe struct {
	cfg     Config
	outcome Outcome
}

// NewHTTP3 is a [Constructor] for [*HTTP3Probe].
func NewHTTP3(cfg Config) AppProtocol {
	return &HTTP3Probe{cfg: cfg}
}

// http3Result is the JSON-friendly shape recorded for an HTTP/3 probe.
type http3Result struct {
	Error      string `json:"error,omitempty"`
	Proto      string `json:"proto"`
	StatusCode int    `json:"status_code,omitempty"`
	BodyBytes  int64  `json:"body_bytes"`
}

// OnConnected implements the [AppProtocol] interface for *HTTP3Probe. It
// drives the HTTP/3 request directly over conn via
// [http3.SingleDestinationRoundTripper], rather than re-dialing: that
// round tripper accepts an already-open [quic.EarlyConnection], so the
// Driver's dial and the probe's request share one handshake.
func (p *HTTP3Probe) OnConnected(ctx context.Context, conn quic.Connection) (err error) {
	ec, ok := conn.(quic.EarlyConnection)
	if !ok {
		return fmt.Errorf("connection does not support 0-RTT/early data round trips")
	}

	rt := &http3.SingleDestinationRoundTripper{Connection: ec}
	cc := rt.Start(ctx)
	defer cc.CloseWithError(0, "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+p.cfg.Host+p.cfg.Path, nil)
	if err != nil {
		p.outcome = Outcome{Success: false, Value: http3Result{Error: err.Error()}}

		return fmt.Errorf("building request: %w", err)
	}

	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := cc.RoundTrip(req)
	if err != nil {
		p.outcome = Outcome{Success: false, Value: http3Result{Error: err.Error()}}

		return fmt.Errorf("round trip: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		p.outcome = Outcome{
			Success: false,
			Value: http3Result{
				Error:      err.Error(),
				Proto:      resp.Proto,
				StatusCode: resp.StatusCode,
				BodyBytes:  n,
			},
		}

		return fmt.Errorf("reading response body: %w", err)
	}

	p.outcome = Outcome{
		Success: resp.StatusCode < 500,
		Value: http3Result{
			Proto:      resp.Proto,
			StatusCode: resp.StatusCode,
			BodyBytes:  n,
		},
	}

	return nil
}

// Outcome implements the [AppProtocol] interface for *HTTP3Probe.
func (p *HTTP3Probe) Outcome() Outcome {
	return p.outcome
}

// OnConnClosed implements the [AppProtocol] interface for *HTTP3Probe. The
// HTTP/3 probe has nothing left to do once the connection closes: its
// result is already captured by Outcome.
func (p *HTTP3Probe) OnConnClosed(context.Context) {}

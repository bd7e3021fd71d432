// Package scheduler implements the Scheduler (spec.md §4.8): domain
// fan-out over a bounded worker pool, the per-domain retry ladder across
// ConnectionConfig variants, and progress reporting.
//
// The worker pool is built the way internal/dnsserver/workerpool.go builds
// ants.Pool for DNS query workers: an [*ants.Pool] with a slog-backed
// [ants.Logger] adapter, sized once and reused for the whole run.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/optslog"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/term"

	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/agderrors"
	"github.com/QUIC-Lab/quic-lab/internal/driver"
	"github.com/QUIC-Lab/quic-lab/internal/keylog"
	"github.com/QUIC-Lab/quic-lab/internal/probe"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
	"github.com/QUIC-Lab/quic-lab/internal/ratelimit"
	"github.com/QUIC-Lab/quic-lab/internal/recorder"
	"github.com/QUIC-Lab/quic-lab/internal/resolve"
	"github.com/QUIC-Lab/quic-lab/internal/session"
)

// antsLogger adapts a [*slog.Logger] to the [ants.Logger] interface,
// mirroring internal/dnsserver/workerpool.go's antsLogger.
type antsLogger struct {
	logger *slog.Logger
}

// type check
var _ ants.Logger = (*antsLogger)(nil)

// Printf implements the [ants.Logger] interface for *antsLogger.
func (l *antsLogger) Printf(format string, args ...interface{}) {
	l.logger.Info("scheduler pool", "msg", fmt.Sprintf(format, args...))
}

// Sinks bundles the shared, internally-synchronized components every
// worker's attempts write into (spec.md §3 "Ownership").
type Sinks struct {
	QlogMux  *qlogmux.Mux
	Keylog   *keylog.Sink
	Session  *session.Sink
	Recorder *recorder.Recorder
	Resolver *resolve.Resolver
	Limiter  *ratelimit.Limiter
}

// Scheduler runs the domain fan-out described in spec.md §4.8.
type Scheduler struct {
	logger   *slog.Logger
	pool     *ants.Pool
	sinks    Sinks
	cfg      agd.SchedulerConfig
	variants []*agd.ConnectionConfig
	newApp   probe.Constructor

	progress *progressReporter
}

// Config configures a [*Scheduler].
type Config struct {
	Logger    *slog.Logger
	Sinks     Sinks
	Scheduler agd.SchedulerConfig
	Variants  []*agd.ConnectionConfig
	NewApp    probe.Constructor
}

// New creates a *Scheduler and its worker pool.
func New(cfg *Config) (s *Scheduler, err error) {
	workers := cfg.Scheduler.Workers()

	pool, err := ants.NewPool(workers, ants.WithOptions(ants.Options{
		ExpiryDuration: time.Minute,
		Nonblocking:    false,
		Logger:         &antsLogger{logger: cfg.Logger},
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Scheduler{
		logger:   cfg.Logger,
		pool:     pool,
		sinks:    cfg.Sinks,
		cfg:      cfg.Scheduler,
		variants: cfg.Variants,
		newApp:   cfg.NewApp,
		progress: newProgressReporter(os.Stdout),
	}, nil
}

// Run submits every domain in hosts as a unit of work and blocks until all
// have reached a terminal outcome or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, hosts []string) (err error) {
	s.progress.start(len(hosts))
	defer s.progress.finish()

	wg := &sync.WaitGroup{}

	for i, host := range hosts {
		target := agd.DomainTarget{Host: host, Index: i}

		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			s.runDomain(ctx, target)
		})
		if submitErr != nil {
			wg.Done()

			return fmt.Errorf("submitting domain %d: %w", i, submitErr)
		}

		if ctx.Err() != nil {
			break
		}
	}

	wg.Wait()
	s.pool.Release()

	return ctx.Err()
}

// runDomain runs the retry ladder of spec.md §4.8 "Per-domain algorithm"
// for a single target.
func (s *Scheduler) runDomain(ctx context.Context, target agd.DomainTarget) {
	for i, cc := range s.variants {
		if ctx.Err() != nil {
			s.progress.fail(target.Host, agderrors.KindCancelled)

			return
		}

		ok, final := s.runAttempt(ctx, target, cc)
		if ok {
			s.progress.succeed(target.Host)

			return
		}

		if final {
			break
		}

		if i < len(s.variants)-1 && s.cfg.InterAttemptDelay > 0 {
			select {
			case <-time.After(s.cfg.InterAttemptDelay):
			case <-ctx.Done():
				s.progress.fail(target.Host, agderrors.KindCancelled)

				return
			}
		}
	}

	s.progress.fail(target.Host, agderrors.KindApplication)
}

// runAttempt runs exactly one ConnectionConfig variant for target and
// reports whether the probe succeeded, writing a ProbeRecord in either
// case.  final is true when the attempt failed at the application layer,
// which ends the retry ladder for target.
func (s *Scheduler) runAttempt(ctx context.Context, target agd.DomainTarget, cc *agd.ConnectionConfig) (ok, final bool) {
	if s.sinks.Limiter != nil {
		err := s.sinks.Limiter.Acquire(ctx)
		if err != nil {
			s.record(ctx, target.Host, agderrors.Cancelled)

			return false, false
		}
	}

	addrs, err := s.sinks.Resolver.Resolve(ctx, target.Host, cc.Port, cc.IPVersion)
	if err != nil {
		optslog.Debug2(ctx, s.logger, "resolution failed", "host", target.Host, "err", err)
		s.record(ctx, target.Host, err)

		return false, false
	}

	deadline := cc.MaxIdleTimeout + cc.DrainGrace()
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	d := driver.New(&driver.Config{
		Logger:  s.logger,
		QlogMux: s.sinks.QlogMux,
		Keylog:  s.sinks.Keylog,
		Session: s.sinks.Session,
	})

	app := s.newApp(probe.Config{Host: target.Host, Path: cc.Path, UserAgent: cc.UserAgent})

	res, err := d.Run(attemptCtx, target.Host, addrs[0], cc, app)
	if err != nil {
		s.record(ctx, cmp.Or(res.TraceID, target.Host), err)

		var appErr *agderrors.AppError

		return false, errors.As(err, &appErr) && appErr.Kind == agderrors.KindApplication
	}

	success := res.HandshakeOK && res.Outcome.Success

	rec := agd.ProbeRecord{Key: res.TraceID, Value: res.Outcome.Value}
	if recErr := s.sinks.Recorder.Record(ctx, rec); recErr != nil {
		s.logger.ErrorContext(ctx, "writing probe record", slogutil.KeyError, recErr)
	}

	return success, !success
}

// record writes a failure ProbeRecord keyed by key: the connection's
// trace_id when the handshake completed, otherwise the host itself.
func (s *Scheduler) record(ctx context.Context, key string, cause error) {
	kind := agderrors.KindApplication
	var appErr *agderrors.AppError
	if errors.As(cause, &appErr) {
		kind = appErr.Kind
	}

	rec := agd.ProbeRecord{
		Key: key,
		Value: map[string]any{
			"error": cause.Error(),
			"kind":  string(kind),
		},
	}

	if recErr := s.sinks.Recorder.Record(ctx, rec); recErr != nil {
		s.logger.ErrorContext(ctx, "writing failure probe record", slogutil.KeyError, recErr)
	}
}

// progressReporter implements spec.md §4.8 "Progress reporting": a live
// counter on a TTY, or a periodic textual line otherwise.
type progressReporter struct {
	out        *os.File
	isTTY      bool
	total      int64
	done       int64
	okCount    int64
	failCount  int64
	lastRender time.Time
	mu         sync.Mutex
	stop       chan struct{}
}

func newProgressReporter(out *os.File) *progressReporter {
	return &progressReporter{
		out:   out,
		isTTY: term.IsTerminal(int(out.Fd())),
		stop:  make(chan struct{}),
	}
}

func (p *progressReporter) start(total int) {
	atomic.StoreInt64(&p.total, int64(total))

	if !p.isTTY {
		go p.tickPeriodic()
	}
}

// tickPeriodic logs a textual progress line every 5 seconds for non-TTY
// output (spec.md §4.8: "must not exceed one update per 100 ms on TTYs";
// non-TTY cadence is implementation-defined).
func (p *progressReporter) tickPeriodic() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.render()
		case <-p.stop:
			return
		}
	}
}

func (p *progressReporter) succeed(host string) {
	atomic.AddInt64(&p.done, 1)
	atomic.AddInt64(&p.okCount, 1)
	p.line("OK", host)
	p.maybeRenderTTY()
}

func (p *progressReporter) fail(host string, kind agderrors.Kind) {
	atomic.AddInt64(&p.done, 1)
	atomic.AddInt64(&p.failCount, 1)
	p.line("FAIL:"+string(kind), host)
	p.maybeRenderTTY()
}

// line emits one per-domain progress line (spec.md §7: "Progress line
// shows OK/FAIL:<kind> per domain"), clearing the live TTY counter first
// so the two never interleave mid-line, the way orca.go clears its own
// status line before printing over it.
func (p *progressReporter) line(status, host string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isTTY {
		fmt.Fprintf(p.out, "\r\033[K%s %s\n", status, host)
	} else {
		fmt.Fprintf(p.out, "%s %s\n", status, host)
	}
}

// maybeRenderTTY renders at most once per 100ms, per spec.md §4.8.
func (p *progressReporter) maybeRenderTTY() {
	if !p.isTTY {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastRender) < 100*time.Millisecond {
		return
	}

	p.lastRender = time.Now()
	p.render()
}

func (p *progressReporter) render() {
	done := atomic.LoadInt64(&p.done)
	total := atomic.LoadInt64(&p.total)
	ok := atomic.LoadInt64(&p.okCount)
	fail := atomic.LoadInt64(&p.failCount)

	if p.isTTY {
		fmt.Fprintf(p.out, "\r%d/%d done (ok=%d fail=%d)", done, total, ok, fail)
	} else {
		fmt.Fprintf(p.out, "%d/%d done (ok=%d fail=%d)\n", done, total, ok, fail)
	}
}

func (p *progressReporter) finish() {
	close(p.stop)
	p.render()

	if p.isTTY {
		fmt.Fprintln(p.out)
	}
}

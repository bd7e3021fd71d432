// Package cmd is the quic-lab entry point: it reads the on-disk TOML
// configuration and the domains file, builds the shared sinks and the
// Scheduler, runs the probe pass, and maps the outcome onto the process
// exit codes of spec.md §6.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	"github.com/QUIC-Lab/quic-lab/internal/config"
	"github.com/QUIC-Lab/quic-lab/internal/keylog"
	"github.com/QUIC-Lab/quic-lab/internal/logsink"
	"github.com/QUIC-Lab/quic-lab/internal/probe"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
	"github.com/QUIC-Lab/quic-lab/internal/ratelimit"
	"github.com/QUIC-Lab/quic-lab/internal/recorder"
	"github.com/QUIC-Lab/quic-lab/internal/resolve"
	"github.com/QUIC-Lab/quic-lab/internal/scheduler"
	"github.com/QUIC-Lab/quic-lab/internal/session"
)

// Exit status codes, spec.md §6: "Exit codes: 0 success (any domain
// outcome), 2 config load error, 3 I/O setup error, 130 on SIGINT."
const (
	StatusSuccess     = 0
	StatusConfigError = 2
	StatusIOError     = 3
	StatusInterrupted = 130

	defaultConfigPath = "./quic-lab.toml"
)

// Main is the command entry point.  args is the program's argument list
// excluding argv[0]; args[0], if present, is the config file path.
func Main(args []string) (status int) {
	logger := slogutil.New(&slogutil.Config{
		Output: os.Stdout,
		Format: slogutil.FormatJSON,
	})

	configPath := defaultConfigPath
	if len(args) > 0 && args[0] != "" {
		configPath = args[0]
	}

	cfg, err := config.Load(configPath, func(msg string) { logger.Warn(msg) })
	if err != nil {
		logger.Error("loading configuration", slogutil.KeyError, err)

		return StatusConfigError
	}

	logOut, closeLog, err := buildLogOutput(cfg)
	if err != nil {
		logger.Error("setting up log sink", slogutil.KeyError, err)

		return StatusIOError
	}
	defer closeLog()

	logger = slogutil.New(&slogutil.Config{
		Output:  logOut,
		Format:  slogutil.FormatJSON,
		Verbose: cfg.General.LogLevel == "debug" || cfg.General.LogLevel == "trace",
	})

	domainsPath := filepath.Join(cfg.IO.InDir, cfg.IO.DomainsFileName)

	hosts, err := config.LoadDomains(domainsPath)
	if err != nil {
		logger.Error("loading domains file", slogutil.KeyError, err)

		return StatusIOError
	}

	sinks, closeSinks, err := buildSinks(logger, cfg)
	if err != nil {
		logger.Error("setting up artifact sinks", slogutil.KeyError, err)

		return StatusIOError
	}
	defer closeSinks()

	s, err := scheduler.New(&scheduler.Config{
		Logger:    logger,
		Sinks:     sinks,
		Scheduler: cfg.Scheduler,
		Variants:  cfg.Variants,
		NewApp:    probe.NewHTTP3,
	})
	if err != nil {
		logger.Error("setting up scheduler", slogutil.KeyError, err)

		return StatusIOError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sh := newSignalHandler(logger, cancel)
	defer sh.stop()

	go sh.wait()

	logger.Info("starting run", "hosts", len(hosts))

	err = s.Run(ctx, hosts)
	if ctx.Err() != nil {
		logger.Info("run interrupted")

		return StatusInterrupted
	}

	if err != nil {
		logger.Error("run failed", slogutil.KeyError, err)
	}

	logger.Info("run complete")

	return StatusSuccess
}

// buildLogOutput builds the process logger's output, wiring a
// [*logsink.Sink] under `log_files/` when cfg.General.SaveLogFiles is set
// (spec.md §6: "log_files/quic-lab.log[.N]"), tee'd with stdout so the run
// stays observable interactively.  If the sink is disabled, out is
// os.Stdout and closeFn is a no-op.
func buildLogOutput(cfg *config.Config) (out io.Writer, closeFn func() error, err error) {
	if !cfg.General.SaveLogFiles {
		return os.Stdout, func() error { return nil }, nil
	}

	dir := filepath.Join(cfg.IO.OutDir, "log_files")
	if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", mkErr)
	}

	sink, sinkErr := logsink.New(&logsink.Config{
		BasePath: filepath.Join(dir, "quic-lab.log"),
		MaxBytes: cfg.IO.LogMaxBytes,
	})
	if sinkErr != nil {
		return nil, nil, fmt.Errorf("creating log sink: %w", sinkErr)
	}

	return io.MultiWriter(os.Stdout, sink), sink.Close, nil
}

// buildSinks constructs the sinks enabled by cfg.General, rooted at
// cfg.IO.OutDir per the on-disk artifact layout of spec.md §6, and returns
// a function that closes every sink that was actually created.
func buildSinks(logger *slog.Logger, cfg *config.Config) (sinks scheduler.Sinks, closeAll func(), err error) {
	out := cfg.IO.OutDir

	var closers []func() error

	if cfg.General.SaveRecorderFiles {
		dir := filepath.Join(out, "recorder_files")
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return sinks, nil, fmt.Errorf("creating recorder directory: %w", mkErr)
		}

		rec, recErr := recorder.New(&recorder.Config{
			Logger:   logger,
			BasePath: filepath.Join(dir, "quic-lab-recorder.jsonl"),
			MaxBytes: cfg.IO.RecorderMaxBytes,
		})
		if recErr != nil {
			return sinks, nil, fmt.Errorf("creating recorder: %w", recErr)
		}

		sinks.Recorder = rec
		closers = append(closers, rec.Close)
	} else {
		return sinks, nil, fmt.Errorf("save_recorder_files is required: the scheduler cannot record outcomes without it")
	}

	if cfg.General.SaveQlogFiles {
		dir := filepath.Join(out, "qlog_files")
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return sinks, nil, fmt.Errorf("creating qlog directory: %w", mkErr)
		}

		mux, muxErr := qlogmux.New(&qlogmux.Config{
			Logger:   logger,
			BasePath: filepath.Join(dir, "quic-lab.sqlog"),
			MaxBytes: cfg.IO.QlogMaxBytes,
			Header: qlogmux.Header{
				Title:       "quic-lab",
				Description: "quic-lab connection traces",
			},
		})
		if muxErr != nil {
			return sinks, nil, fmt.Errorf("creating qlog mux: %w", muxErr)
		}

		sinks.QlogMux = mux
		closers = append(closers, mux.Close)
	}

	if cfg.General.SaveKeylogFiles {
		dir := filepath.Join(out, "keylog_files")
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return sinks, nil, fmt.Errorf("creating keylog directory: %w", mkErr)
		}

		base := filepath.Join(dir, "quic-lab.keylog")
		if cfg.IO.KeylogPathOverride != "" {
			base = cfg.IO.KeylogPathOverride
		}

		sink, keyErr := keylog.New(&keylog.Config{
			BasePath: base,
			MaxBytes: cfg.IO.KeylogMaxBytes,
		})
		if keyErr != nil {
			return sinks, nil, fmt.Errorf("creating keylog sink: %w", keyErr)
		}

		sinks.Keylog = sink
		closers = append(closers, sink.Close)
	}

	if cfg.General.SaveSessionFiles {
		dir := filepath.Join(out, "session_files")

		sessSink, sessErr := session.New(dir)
		if sessErr != nil {
			return sinks, nil, fmt.Errorf("creating session sink: %w", sessErr)
		}

		sinks.Session = sessSink
		closers = append(closers, sessSink.Close)
	}

	sinks.Resolver = resolve.New()
	sinks.Limiter = ratelimit.New(cfg.Scheduler.RequestsPerSecond, cfg.Scheduler.Burst)

	closeAll = func() {
		for _, c := range closers {
			if cErr := c(); cErr != nil {
				logger.Error("closing sink", slogutil.KeyError, cErr)
			}
		}
	}

	return sinks, closeAll, nil
}

package agd

import (
	"runtime"
	"time"
)

// SchedulerConfig is the `[scheduler]` section of the on-disk TOML
// configuration.
type SchedulerConfig struct {
	// Concurrency is the number of workers in the Scheduler's pool.  Zero
	// means 10×runtime.NumCPU() (spec.md §3, an undocumented heuristic
	// preserved as-is per spec.md §9 Open Questions).
	Concurrency int

	// RequestsPerSecond is the global rate limit.  Zero disables
	// throttling entirely (spec.md §8 boundary 8).
	RequestsPerSecond float64

	// Burst is the token bucket capacity.  Must be at least 1.
	Burst int

	// InterAttemptDelay is the pause between retry-ladder variants for a
	// single domain after a failed attempt.
	InterAttemptDelay time.Duration
}

// Workers returns the effective worker pool size, resolving the
// Concurrency == 0 heuristic.
func (c *SchedulerConfig) Workers() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}

	return 10 * runtime.NumCPU()
}

// IoConfig is the `[io]` section of the on-disk TOML configuration.
type IoConfig struct {
	// InDir is the directory the domains file is read from.
	InDir string

	// DomainsFileName is the name of the domains file within InDir.
	DomainsFileName string

	// OutDir is the root of the on-disk artifact layout (spec.md §6).
	OutDir string

	// LogMaxBytes bounds each rotating text log file.
	LogMaxBytes int64

	// RecorderMaxBytes bounds each rotating recorder file.
	RecorderMaxBytes int64

	// QlogMaxBytes bounds each rotating qlog file.
	QlogMaxBytes int64

	// KeylogMaxBytes bounds each rotating keylog file.
	KeylogMaxBytes int64

	// KeylogPathOverride, if non-empty, replaces the keylog file's base
	// path computed from OutDir (spec.md §6: the SSLKEYLOGFILE
	// environment variable).
	KeylogPathOverride string
}

// GeneralConfig is the `[general]` section of the on-disk TOML
// configuration.
type GeneralConfig struct {
	// LogLevel is the minimum level emitted to the text log.
	LogLevel string

	// SaveLogFiles enables the rotating text log sink.
	SaveLogFiles bool

	// SaveRecorderFiles enables the JSONL per-probe record sink.
	SaveRecorderFiles bool

	// SaveQlogFiles enables the qlog multiplexer sink.
	SaveQlogFiles bool

	// SaveKeylogFiles enables the TLS keylog sink.
	SaveKeylogFiles bool

	// SaveSessionFiles enables the (experimental, write-only) session
	// resumption blob sink.
	SaveSessionFiles bool
}

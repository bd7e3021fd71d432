// Package config loads the on-disk TOML configuration (spec.md §6): the
// `[scheduler]`, `[io]`, and `[general]` sections plus the repeated
// `[[connection_config]]` retry ladder, the domains file, and the small set
// of environment-variable overrides.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/c2h5oh/datasize"
	"github.com/caarlos0/env/v7"

	"github.com/QUIC-Lab/quic-lab/internal/agd"
	"github.com/QUIC-Lab/quic-lab/internal/agderrors"
)

// Config is the fully-resolved, in-memory configuration produced by [Load].
type Config struct {
	Scheduler agd.SchedulerConfig
	IO        agd.IoConfig
	General   agd.GeneralConfig
	Variants  []*agd.ConnectionConfig
}

// fileConfig is the on-disk TOML shape, decoded directly by
// [toml.DecodeFile] the way qntx-code/ixgest/git's Cargo.toml/Cargo.lock
// readers decode into a plain tagged struct.
type fileConfig struct {
	Scheduler        schedulerSection         `toml:"scheduler"`
	IO               ioSection                `toml:"io"`
	General          generalSection           `toml:"general"`
	ConnectionConfig []connectionConfigSection `toml:"connection_config"`
}

type schedulerSection struct {
	Concurrency         int     `toml:"concurrency"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
	Burst               int     `toml:"burst"`
	InterAttemptDelayMs int64   `toml:"inter_attempt_delay_ms"`
}

type ioSection struct {
	InDir            string            `toml:"in_dir"`
	DomainsFileName  string            `toml:"domains_file_name"`
	OutDir           string            `toml:"out_dir"`
	LogMaxBytes      datasize.ByteSize `toml:"log_max_bytes"`
	RecorderMaxBytes datasize.ByteSize `toml:"recorder_max_bytes"`
	QlogMaxBytes     datasize.ByteSize `toml:"qlog_max_bytes"`
	KeylogMaxBytes   datasize.ByteSize `toml:"keylog_max_bytes"`
}

type generalSection struct {
	LogLevel          string `toml:"log_level"`
	SaveLogFiles      bool   `toml:"save_log_files"`
	SaveRecorderFiles bool   `toml:"save_recorder_files"`
	SaveQlogFiles     bool   `toml:"save_qlog_files"`
	SaveKeylogFiles   bool   `toml:"save_keylog_files"`
	SaveSessionFiles  bool   `toml:"save_session_files"`
}

// connectionConfigSection is one `[[connection_config]]` table.
type connectionConfigSection struct {
	Path                           string   `toml:"path"`
	UserAgent                      string   `toml:"user_agent"`
	ALPN                           []string `toml:"alpn"`
	MultipathAlgorithm             string   `toml:"multipath_algorithm"`
	IPVersion                      string   `toml:"ip_version"`
	Port                           uint16   `toml:"port"`
	MaxIdleTimeoutMs               int64    `toml:"max_idle_timeout_ms"`
	MaxAckDelayMs                  int64    `toml:"max_ack_delay_ms"`
	InitialMaxData                 uint64   `toml:"initial_max_data"`
	InitialMaxStreamDataBidiLocal  uint64   `toml:"initial_max_stream_data_bidi_local"`
	InitialMaxStreamDataBidiRemote uint64   `toml:"initial_max_stream_data_bidi_remote"`
	InitialMaxStreamDataUni        uint64   `toml:"initial_max_stream_data_uni"`
	InitialMaxStreamsBidi          uint64   `toml:"initial_max_streams_bidi"`
	InitialMaxStreamsUni           uint64   `toml:"initial_max_streams_uni"`
	ActiveConnectionIDLimit        uint64   `toml:"active_connection_id_limit"`
	SendUDPPayloadSize             uint64   `toml:"send_udp_payload_size"`
	MaxReceiveBufferSize           uint64   `toml:"max_receive_buffer_size"`
	VerifyPeer                     bool     `toml:"verify_peer"`
	EnableMultipath                bool     `toml:"enable_multipath"`
}

// defaults applied before decoding, so that a table or field the TOML file
// omits keeps a sane value (spec.md §6: "Defaults must match §3").
func defaultFileConfig() fileConfig {
	return fileConfig{
		IO: ioSection{
			DomainsFileName:  "domains.txt",
			OutDir:           ".",
			LogMaxBytes:      64 * datasize.MB,
			RecorderMaxBytes: 64 * datasize.MB,
			QlogMaxBytes:     64 * datasize.MB,
			KeylogMaxBytes:   16 * datasize.MB,
		},
		General: generalSection{
			LogLevel:          "info",
			SaveLogFiles:      true,
			SaveRecorderFiles: true,
			SaveQlogFiles:     true,
		},
	}
}

// Load reads and decodes the TOML configuration file at path, applying
// defaults and environment overrides.  Unknown keys produce a warning on
// warn but do not abort loading (spec.md §6); warn may be nil to discard
// them.
func Load(path string, warn func(msg string)) (c *Config, err error) {
	fc := defaultFileConfig()

	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, agderrors.Configf("decoding %s: %w", path, err)
	}

	if warn != nil {
		for _, k := range meta.Undecoded() {
			warn(fmt.Sprintf("config: unknown key %q", k.String()))
		}
	}

	c, err = fc.resolve()
	if err != nil {
		return nil, err
	}

	overrides, err := readEnvOverrides()
	if err != nil {
		return nil, agderrors.Configf("reading environment overrides: %w", err)
	}

	overrides.apply(c)

	return c, nil
}

// resolve converts the decoded file shape into the engine's runtime types,
// validating the boundaries of spec.md §8.
func (fc *fileConfig) resolve() (c *Config, err error) {
	if len(fc.ConnectionConfig) == 0 {
		return nil, agderrors.Configf("no [[connection_config]] entries")
	}

	variants := make([]*agd.ConnectionConfig, 0, len(fc.ConnectionConfig))
	for i, s := range fc.ConnectionConfig {
		cc, ccErr := s.resolve()
		if ccErr != nil {
			return nil, agderrors.Configf("connection_config[%d]: %w", i, ccErr)
		}

		variants = append(variants, cc)
	}

	return &Config{
		Scheduler: agd.SchedulerConfig{
			Concurrency:       fc.Scheduler.Concurrency,
			RequestsPerSecond: fc.Scheduler.RequestsPerSecond,
			Burst:             fc.Scheduler.Burst,
			InterAttemptDelay: time.Duration(fc.Scheduler.InterAttemptDelayMs) * time.Millisecond,
		},
		IO: agd.IoConfig{
			InDir:            fc.IO.InDir,
			DomainsFileName:  fc.IO.DomainsFileName,
			OutDir:           fc.IO.OutDir,
			LogMaxBytes:      int64(fc.IO.LogMaxBytes),
			RecorderMaxBytes: int64(fc.IO.RecorderMaxBytes),
			QlogMaxBytes:     int64(fc.IO.QlogMaxBytes),
			KeylogMaxBytes:   int64(fc.IO.KeylogMaxBytes),
		},
		General: agd.GeneralConfig{
			LogLevel:          fc.General.LogLevel,
			SaveLogFiles:      fc.General.SaveLogFiles,
			SaveRecorderFiles: fc.General.SaveRecorderFiles,
			SaveQlogFiles:     fc.General.SaveQlogFiles,
			SaveKeylogFiles:   fc.General.SaveKeylogFiles,
			SaveSessionFiles:  fc.General.SaveSessionFiles,
		},
		Variants: variants,
	}, nil
}

// resolve converts one decoded `[[connection_config]]` table, applying the
// per-variant defaults of spec.md §3 and rejecting the boundary of §8
// invariant 9 ("max_idle_timeout_ms = 0 is rejected at config load").
func (s *connectionConfigSection) resolve() (cc *agd.ConnectionConfig, err error) {
	if s.MaxIdleTimeoutMs == 0 {
		return nil, agderrors.Configf("max_idle_timeout_ms must be greater than zero")
	}

	alpn := s.ALPN
	if len(alpn) == 0 {
		alpn = []string{"h3"}
	}

	path := s.Path
	if path == "" {
		path = "/"
	}

	port := s.Port
	if port == 0 {
		port = 443
	}

	ipVersion, err := parseIPVersion(s.IPVersion)
	if err != nil {
		return nil, err
	}

	multipath, err := parseMultipathAlgorithm(s.MultipathAlgorithm)
	if err != nil {
		return nil, err
	}

	maxAckDelayMs := s.MaxAckDelayMs
	if maxAckDelayMs == 0 {
		maxAckDelayMs = 25
	}

	return &agd.ConnectionConfig{
		Path:                           path,
		UserAgent:                      s.UserAgent,
		ALPN:                           alpn,
		MultipathAlgorithm:             multipath,
		IPVersion:                      ipVersion,
		MaxIdleTimeout:                 time.Duration(s.MaxIdleTimeoutMs) * time.Millisecond,
		MaxAckDelay:                    time.Duration(maxAckDelayMs) * time.Millisecond,
		InitialMaxData:                 s.InitialMaxData,
		InitialMaxStreamDataBidiLocal:  s.InitialMaxStreamDataBidiLocal,
		InitialMaxStreamDataBidiRemote: s.InitialMaxStreamDataBidiRemote,
		InitialMaxStreamDataUni:        s.InitialMaxStreamDataUni,
		InitialMaxStreamsBidi:          s.InitialMaxStreamsBidi,
		InitialMaxStreamsUni:           s.InitialMaxStreamsUni,
		ActiveConnectionIDLimit:        s.ActiveConnectionIDLimit,
		SendUDPPayloadSize:             s.SendUDPPayloadSize,
		MaxReceiveBufferSize:           s.MaxReceiveBufferSize,
		Port:                           port,
		VerifyPeer:                     s.VerifyPeer,
		EnableMultipath:                s.EnableMultipath,
	}, nil
}

func parseIPVersion(s string) (agd.IPVersion, error) {
	switch agd.IPVersion(s) {
	case "":
		return agd.IPVersionAuto, nil
	case agd.IPVersionAuto, agd.IPVersionIPv4, agd.IPVersionIPv6:
		return agd.IPVersion(s), nil
	default:
		return "", agderrors.Configf("invalid ip_version %q", s)
	}
}

func parseMultipathAlgorithm(s string) (agd.MultipathAlgorithm, error) {
	switch agd.MultipathAlgorithm(s) {
	case "":
		return agd.MultipathMinRTT, nil
	case agd.MultipathMinRTT, agd.MultipathRoundRobin, agd.MultipathRedundant:
		return agd.MultipathAlgorithm(s), nil
	default:
		return "", agderrors.Configf("invalid multipath_algorithm %q", s)
	}
}

// LoadDomains reads the domains file of spec.md §6: UTF-8, one host per
// line, `#` introduces an end-of-line comment, blank/whitespace-only lines
// are ignored.
func LoadDomains(path string) (hosts []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, agderrors.IOf("opening domains file: %w", err)
	}
	defer f.Close()

	return parseDomains(f)
}

func parseDomains(r io.Reader) (hosts []string, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		hosts = append(hosts, line)
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return nil, agderrors.IOf("scanning domains file: %w", scanErr)
	}

	return hosts, nil
}

// envOverrides is the small set of environment-variable overrides of
// spec.md §6 ("RUST_LOG", "SSLKEYLOGFILE" — both optional; honored if
// set"), grounded on the teacher's internal/cmd.environments/env.Parse
// pattern.
type envOverrides struct {
	LogLevel      string `env:"RUST_LOG"`
	SSLKeyLogFile string `env:"SSLKEYLOGFILE"`
}

func readEnvOverrides() (o *envOverrides, err error) {
	o = &envOverrides{}

	err = env.Parse(o)
	if err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	return o, nil
}

// apply overlays the environment overrides onto c.  An unset variable
// leaves the TOML-derived value untouched.
func (o *envOverrides) apply(c *Config) {
	if o.LogLevel != "" {
		c.General.LogLevel = o.LogLevel
	}

	if o.SSLKeyLogFile != "" {
		c.IO.KeylogPathOverride = o.SSLKeyLogFile
	}
}

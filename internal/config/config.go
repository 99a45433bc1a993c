// Package config parses and validates the command-line surface of
// spec.md section 6. Unlike the teacher's internal/config, which layers
// koanf/v2 YAML files, environment variables, and CLI flags, this
// forwarder has no configuration-file surface in the spec — the flag
// layer is the whole story, so it is built on the standard library's
// flag.FlagSet the way the teacher's own companion tools
// (cmd/gobfdctl) parse their subcommand flags, generalized with the same
// DefaultConfig/Validate/sentinel-error shape as the teacher's koanf
// config.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/vanenet/portmapd/internal/netaddr"
)

// TranslationMode selects the address-family remapping applied to the
// outbound socket on connect (spec.md section 4.1/4.7).
type TranslationMode int

const (
	Normal TranslationMode = iota
	V4toV6
	V6toV4
)

// LogLevel mirrors spec.md section 6's numeric/named log-level scale.
type LogLevel int

const (
	LogNever LogLevel = iota
	LogFatal
	LogError
	LogWarn
	LogInfo
	LogDebug
	LogTrace
)

var logLevelNames = map[string]LogLevel{
	"never": LogNever,
	"fatal": LogFatal,
	"error": LogError,
	"warn":  LogWarn,
	"info":  LogInfo,
	"debug": LogDebug,
	"trace": LogTrace,
}

// Config holds the fully parsed and validated command-line configuration.
type Config struct {
	Listen netaddr.Address
	Remote netaddr.Address

	TCP bool
	UDP bool

	SockBufKB int

	LogLevel     LogLevel
	LogPosition  bool
	ColorEnabled bool
	LogFile      string

	Translation TranslationMode
	BindIface   string
	PMTUDFrag   bool

	MaxConnections int
	TCPTimeoutSec  int64
	UDPTimeoutSec  int64

	ConnClearRatio  int
	ConnClearMin    int
	DisableConnClear bool

	RunTest     bool
	ShowVersion bool
}

// DefaultConfig returns a Config populated with spec.md section 6's
// documented defaults, before flags are applied.
func DefaultConfig() *Config {
	return &Config{
		SockBufKB:      1024,
		LogLevel:       LogInfo,
		ColorEnabled:   true,
		MaxConnections: 20000,
		TCPTimeoutSec:  360,
		UDPTimeoutSec:  180,
		ConnClearRatio: 30,
		ConnClearMin:   1,
	}
}

// Sentinel validation errors, in the teacher's internal/config style.
var (
	ErrMissingListen     = errors.New("-l HOST:PORT is required")
	ErrMissingRemote     = errors.New("-r HOST:PORT is required")
	ErrNoProtocol        = errors.New("at least one of -t (TCP) or -u (UDP) is required")
	ErrBothTranslations  = errors.New("-4 and -6 are mutually exclusive")
	ErrSockBufOutOfRange = errors.New("--sock-buf must be between 10 and 10240")
	ErrInvalidLogLevel   = errors.New("--log-level must be 0-6 or one of never|fatal|error|warn|info|debug|trace")
	ErrInvalidMaxConns   = errors.New("--max-connections must be > 0")
	ErrInvalidTimeout    = errors.New("timeouts must be > 0")
	ErrInvalidClearRatio = errors.New("--conn-clear-ratio must be > 0")
	ErrInvalidClearMin   = errors.New("--conn-clear-min must be >= 0")
)

// flagSpec carries the raw string/bool flag values that need
// post-processing (address parsing, color last-wins, numeric log level)
// before they can populate a Config.
type flagSpec struct {
	listen, remote       string
	tcp, udp             bool
	sockBuf              int
	logLevel             string
	logPosition          bool
	colorOrder           []bool // each --enable-color/--disable-color appends its value, in CLI order
	logFile              string
	v4, v6               bool
	bindIface            string
	pmtudFrag            bool
	maxConnections       int
	tcpTimeout, udpTimeout int64
	clearRatio, clearMin int
	disableClear         bool
	runTest              bool
	version              bool
}

// Parse builds a FlagSet matching spec.md section 6 exactly and returns a
// validated Config. args excludes the program name (i.e. os.Args[1:]).
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("portmapd", flag.ContinueOnError)

	var raw flagSpec
	def := DefaultConfig()

	fs.StringVar(&raw.listen, "l", "", "listen endpoint, HOST:PORT")
	fs.StringVar(&raw.remote, "r", "", "remote endpoint, HOST:PORT")
	fs.BoolVar(&raw.tcp, "t", false, "forward TCP")
	fs.BoolVar(&raw.udp, "u", false, "forward UDP")

	fs.IntVar(&raw.sockBuf, "sock-buf", def.SockBufKB, "per-socket send/receive buffer size in KB (10-10240)")
	fs.StringVar(&raw.logLevel, "log-level", "info", "log level: 0-6 or never|fatal|error|warn|info|debug|trace")
	fs.BoolVar(&raw.logPosition, "log-position", false, "include source file:line in log output")
	fs.BoolFunc("enable-color", "force-enable colored log output", func(string) error {
		raw.colorOrder = append(raw.colorOrder, true)
		return nil
	})
	fs.BoolFunc("disable-color", "force-disable colored log output", func(string) error {
		raw.colorOrder = append(raw.colorOrder, false)
		return nil
	})
	fs.StringVar(&raw.logFile, "log-file", "", "write logs to PATH in addition to stderr")

	fs.BoolVar(&raw.v4, "4", false, "enable IPv4->IPv6 outbound translation")
	fs.BoolVar(&raw.v6, "6", false, "enable IPv6->IPv4 outbound translation")
	fs.StringVar(&raw.bindIface, "e", "", "bind outbound sockets to IFACE (Linux only)")
	fs.BoolVar(&raw.pmtudFrag, "d", false, "enable UDP PMTUD fragment mode")

	fs.IntVar(&raw.maxConnections, "max-connections", def.MaxConnections, "maximum concurrent flows")
	fs.Int64Var(&raw.tcpTimeout, "tcp-timeout", def.TCPTimeoutSec, "TCP idle timeout in seconds")
	fs.Int64Var(&raw.udpTimeout, "udp-timeout", def.UDPTimeoutSec, "UDP idle timeout in seconds")
	fs.IntVar(&raw.clearRatio, "conn-clear-ratio", def.ConnClearRatio, "eviction sweep divisor")
	fs.IntVar(&raw.clearMin, "conn-clear-min", def.ConnClearMin, "eviction sweep floor")
	fs.BoolVar(&raw.disableClear, "disable-conn-clear", false, "disable idle-connection eviction")

	fs.BoolVar(&raw.runTest, "run-test", false, "run the built-in self-test suite and exit")
	fs.BoolVar(&raw.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	cfg.RunTest = raw.runTest
	cfg.ShowVersion = raw.version
	if cfg.RunTest || cfg.ShowVersion {
		return cfg, nil
	}

	if raw.listen == "" {
		return nil, ErrMissingListen
	}
	listenAddr, err := netaddr.Parse(raw.listen)
	if err != nil {
		return nil, fmt.Errorf("-l %q: %w", raw.listen, err)
	}
	cfg.Listen = listenAddr

	if raw.remote == "" {
		return nil, ErrMissingRemote
	}
	// The "*:port" shorthand is a listen form only; -r needs a literal host.
	if strings.HasPrefix(raw.remote, "*:") {
		return nil, fmt.Errorf("-r %q: %w", raw.remote, netaddr.ErrInvalidAddress)
	}
	remoteAddr, err := netaddr.Parse(raw.remote)
	if err != nil {
		return nil, fmt.Errorf("-r %q: %w", raw.remote, err)
	}
	cfg.Remote = remoteAddr

	cfg.TCP = raw.tcp
	cfg.UDP = raw.udp
	if !cfg.TCP && !cfg.UDP {
		return nil, ErrNoProtocol
	}

	if raw.v4 && raw.v6 {
		return nil, ErrBothTranslations
	}
	switch {
	case raw.v4:
		cfg.Translation = V4toV6
	case raw.v6:
		cfg.Translation = V6toV4
	default:
		cfg.Translation = Normal
	}

	cfg.SockBufKB = raw.sockBuf
	if cfg.SockBufKB < 10 || cfg.SockBufKB > 10240 {
		return nil, ErrSockBufOutOfRange
	}

	level, err := parseLogLevel(raw.logLevel)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level
	cfg.LogPosition = raw.logPosition

	// --enable-color/--disable-color: whichever was given last on the
	// command line wins (spec.md section 6). raw.colorOrder records each
	// occurrence in parse order, which for flag.FlagSet is CLI order.
	cfg.ColorEnabled = true
	if n := len(raw.colorOrder); n > 0 {
		cfg.ColorEnabled = raw.colorOrder[n-1]
	}
	cfg.LogFile = raw.logFile

	cfg.BindIface = raw.bindIface
	cfg.PMTUDFrag = raw.pmtudFrag

	cfg.MaxConnections = raw.maxConnections
	if cfg.MaxConnections <= 0 {
		return nil, ErrInvalidMaxConns
	}
	cfg.TCPTimeoutSec = raw.tcpTimeout
	cfg.UDPTimeoutSec = raw.udpTimeout
	if cfg.TCPTimeoutSec <= 0 || cfg.UDPTimeoutSec <= 0 {
		return nil, ErrInvalidTimeout
	}
	cfg.ConnClearRatio = raw.clearRatio
	if cfg.ConnClearRatio <= 0 {
		return nil, ErrInvalidClearRatio
	}
	cfg.ConnClearMin = raw.clearMin
	if cfg.ConnClearMin < 0 {
		return nil, ErrInvalidClearMin
	}
	cfg.DisableConnClear = raw.disableClear

	return cfg, nil
}

func parseLogLevel(s string) (LogLevel, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(LogNever) || n > int(LogTrace) {
			return 0, ErrInvalidLogLevel
		}
		return LogLevel(n), nil
	}
	if lvl, ok := logLevelNames[strings.ToLower(s)]; ok {
		return lvl, nil
	}
	return 0, ErrInvalidLogLevel
}

// Package config loads the slnatd configuration file.
//
// The native format is one directive per line:
//
//	# comment
//	listen ::1 7001
//	listen [fd00::1]:7001
//	proc_path /proc/net/slick_nat_mappings
//	log_level debug
//	refresh_interval 5s
//	client_timeout 30s
//	metrics_listen 127.0.0.1:9101
//	state_db /var/lib/slnatd
//
// Files ending in .yaml or .yml carry the same keys as a YAML mapping,
// with listen given as a list.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/slicknat/slnat/mapping"
	"github.com/slicknat/slnat/server"
)

const DefaultPath = "/etc/slnatcd/config"

var (
	// ErrInvalid is returned when the file cannot be read or yields no
	// usable listen address. An unreadable file yields the defaults; a file
	// without a usable listen line keeps its other directives and listens
	// on the default address.
	ErrInvalid = errors.New("invalid configuration")
)

type Config struct {
	Listen          []netip.AddrPort
	ProcPath        string
	LogLevel        log.Level
	RefreshInterval time.Duration
	ClientTimeout   time.Duration
	MetricsListen   string
	StateDB         string

	// Problems lists the lines that were ignored, in file order.
	Problems []*LineError
}

// LineError describes a directive that was ignored.
type LineError struct {
	Line   int
	Text   string
	Reason string
}

func (e *LineError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Text)
}

// Default returns the configuration used when no file is usable.
func Default() *Config {
	return &Config{
		Listen:          []netip.AddrPort{server.DefaultListenAddr},
		ProcPath:        mapping.DefaultSourcePath,
		LogLevel:        log.InfoLevel,
		RefreshInterval: mapping.DefaultRefreshInterval,
	}
}

type directive struct {
	line  int
	key   string
	value string
}

// Load reads the file at path. The returned Config is usable even when
// the error is ErrInvalid.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Default(), fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	}
	return Parse(f)
}

// Parse reads the line-oriented format.
func Parse(r io.Reader) (*Config, error) {
	directives, err := scanDirectives(r)
	if err != nil {
		return Default(), fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return build(directives)
}

func build(directives []directive) (*Config, error) {
	cfg := Default()
	cfg.Listen = nil
	for _, d := range directives {
		if reason := cfg.apply(d); reason != "" {
			cfg.Problems = append(cfg.Problems, &LineError{
				Line:   d.line,
				Text:   strings.TrimSpace(d.key + " " + d.value),
				Reason: reason,
			})
		}
	}
	if len(cfg.Listen) == 0 {
		cfg.Listen = []netip.AddrPort{server.DefaultListenAddr}
		return cfg, fmt.Errorf("%w: no valid listen address", ErrInvalid)
	}
	return cfg, nil
}

func (c *Config) apply(d directive) string {
	switch d.key {
	case "listen":
		ap, err := ParseListen(d.value)
		if err != nil {
			return err.Error()
		}
		c.Listen = append(c.Listen, ap)
	case "proc_path":
		if d.value == "" {
			return "missing path"
		}
		c.ProcPath = d.value
	case "log_level":
		lvl, ok := ParseLevel(d.value)
		if !ok {
			c.LogLevel = log.InfoLevel
			return "unknown log level, using info"
		}
		c.LogLevel = lvl
	case "refresh_interval":
		dur, err := time.ParseDuration(d.value)
		if err != nil || dur <= 0 {
			return "refresh interval must be a positive duration"
		}
		c.RefreshInterval = dur
	case "client_timeout":
		dur, err := time.ParseDuration(d.value)
		if err != nil || dur < 0 {
			return "client timeout must be a non-negative duration"
		}
		c.ClientTimeout = dur
	case "metrics_listen":
		c.MetricsListen = d.value
	case "state_db":
		c.StateDB = d.value
	default:
		return "unknown directive"
	}
	return ""
}

// ParseListen accepts "<addr> <port>" and "[<addr>]:<port>". The address
// must be IPv6 and the port within 1..65535.
func ParseListen(s string) (netip.AddrPort, error) {
	s = strings.TrimSpace(s)
	var host, port string
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return netip.AddrPort{}, errors.New("unterminated bracket")
		}
		host = s[1:end]
		rest := s[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return netip.AddrPort{}, errors.New("missing port")
		}
		port = rest[1:]
	} else {
		fields := strings.Fields(s)
		if len(fields) != 2 {
			return netip.AddrPort{}, errors.New("expected address and port")
		}
		host, port = fields[0], fields[1]
	}

	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is6() {
		return netip.AddrPort{}, errors.New("invalid IPv6 address")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return netip.AddrPort{}, errors.New("port out of range")
	}
	return netip.AddrPortFrom(addr, uint16(n)), nil
}

// ParseLevel maps a log_level value to a logger level. It is case
// insensitive and reports false for unknown names.
func ParseLevel(s string) (log.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return log.ErrorLevel, true
	case "warning", "warn":
		return log.WarnLevel, true
	case "info":
		return log.InfoLevel, true
	case "debug":
		return log.DebugLevel, true
	}
	return log.InfoLevel, false
}

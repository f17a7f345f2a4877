package server

import (
	"net/netip"
	"time"

	"github.com/charmbracelet/log"

	"github.com/slicknat/slnat/protocol"
)

var DefaultListenAddr = netip.AddrPortFrom(netip.IPv6Loopback(), protocol.DefaultPort)

type Config struct {
	ListenAddrs []netip.AddrPort
	Resolver    Resolver
	Logger      *log.Logger
	Observer    Observer

	// ClientTimeout bounds the whole exchange with a client. Zero means
	// connections are never timed out.
	ClientTimeout time.Duration
}

func (cfg *Config) populateDefaults() {
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []netip.AddrPort{DefaultListenAddr}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
}

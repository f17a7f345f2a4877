// Package client talks to slnatd over its JSON protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/slicknat/slnat/protocol"
)

const DefaultDialTimeout = 10 * time.Second

var ErrConnect = errors.New("cannot connect to daemon")

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	Addr        netip.AddrPort
	DialTimeout time.Duration
	Dialer      Dialer
}

func (cfg *Config) populateDefaults() {
	if !cfg.Addr.IsValid() {
		cfg.Addr = netip.AddrPortFrom(netip.IPv6Loopback(), protocol.DefaultPort)
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = new(net.Dialer)
	}
}

type Client struct {
	addr        netip.AddrPort
	dialTimeout time.Duration
	dialer      Dialer
}

func New(cfg *Config) *Client {
	cfg.populateDefaults()
	return &Client{
		addr:        cfg.Addr,
		dialTimeout: cfg.DialTimeout,
		dialer:      cfg.Dialer,
	}
}

func (c *Client) Addr() netip.AddrPort {
	return c.addr
}

// Do opens a connection, sends req and returns the single response.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp6", c.addr.String())
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%w at %s: %v", ErrConnect, c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := protocol.WriteMessage(conn, req); err != nil {
		return protocol.Response{}, err
	}

	var resp protocol.Response
	if err := protocol.ReadMessage(conn, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to receive response: %w", err)
	}
	return resp, nil
}

func (c *Client) Resolve(ctx context.Context, ip string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CommandResolveIP, IP: ip})
}

func (c *Client) GlobalIP(ctx context.Context, ip string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CommandGet2kIP, IP: ip})
}

func (c *Client) Ping(ctx context.Context) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CommandPing})
}

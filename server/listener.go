package server

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Listener runs the accept loop for one bind address.
type Listener struct {
	listener      net.Listener
	addr          netip.AddrPort
	dispatcher    *Dispatcher
	baseCtx       context.Context
	logger        *log.Logger
	clientTimeout time.Duration
	closed        atomic.Bool
}

func Listen(ctx context.Context, addr netip.AddrPort, dispatcher *Dispatcher, logger *log.Logger, clientTimeout time.Duration) (*Listener, error) {
	listenConfig := net.ListenConfig{
		Control: listenControlFunc,
	}

	listener, err := listenConfig.Listen(ctx, "tcp6", addr.String())
	if err != nil {
		return nil, fmt.Errorf("unable to listen on %s: %w", addr, err)
	}

	l := &Listener{
		listener:      listener,
		addr:          addr,
		dispatcher:    dispatcher,
		baseCtx:       ctx,
		logger:        logger.With("listen", addr.String()),
		clientTimeout: clientTimeout,
	}
	l.logger.Info("listening", "addr", listener.Addr().String())

	return l, nil
}

// Addr returns the bound address, which differs from the configured one
// when port 0 was requested.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until the listener is closed. It returns nil
// when the close was caused by shutdown.
func (l *Listener) Serve() error {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Temporary() {
				l.logger.Warn("temporary error while accepting connection", "error", netErr)
				time.Sleep(100 * time.Millisecond)
				continue
			}

			select {
			case <-l.baseCtx.Done():
				return nil
			default:
			}
			if l.closed.Load() {
				return nil
			}
			l.logger.Error("unrecoverable error while accepting connection", "error", err)
			return fmt.Errorf("accept on %s failed: %w", l.addr, err)
		}

		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()
	l.logger.Info("client connected", "remote", conn.RemoteAddr().String())

	if l.clientTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(l.clientTimeout)); err != nil {
			l.logger.Warn("can't set connection deadline", "error", err)
		}
	}

	if err := l.dispatcher.ServeConn(conn); err != nil {
		l.logger.Warn("client exchange failed", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

func (l *Listener) Close() error {
	l.closed.Store(true)
	return l.listener.Close()
}

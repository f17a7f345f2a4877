// Package server implements the slnatd query listeners.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoListeners = errors.New("no listener could be started")

// Server owns the set of listeners. Cancelling the context passed to New
// closes all of them.
type Server struct {
	listeners []*Listener
	logger    *log.Logger
	stop      func() bool
	closeOnce sync.Once
	closeErr  error
}

// type check
var _ io.Closer = (*Server)(nil)

// New binds every configured address. An address that can't be bound is
// logged and skipped; New fails only if none could be bound.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	cfg.populateDefaults()

	dispatcher := NewDispatcher(cfg.Resolver, cfg.Logger, cfg.Observer)
	s := &Server{
		logger: cfg.Logger,
	}
	for _, addr := range cfg.ListenAddrs {
		l, err := Listen(ctx, addr, dispatcher, cfg.Logger, cfg.ClientTimeout)
		if err != nil {
			cfg.Logger.Error("failed to create listener", "addr", addr.String(), "error", err)
			continue
		}
		s.listeners = append(s.listeners, l)
	}
	if len(s.listeners) == 0 {
		return nil, ErrNoListeners
	}

	s.stop = context.AfterFunc(ctx, func() {
		s.Close()
	})
	return s, nil
}

// Addrs returns the bound addresses.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Serve runs all accept loops and blocks until every one of them has
// returned. A failed listener does not stop the others.
func (s *Server) Serve() error {
	var g errgroup.Group
	for _, l := range s.listeners {
		g.Go(l.Serve)
	}
	return g.Wait()
}

// Close closes all listeners. Connections already accepted are left to
// finish on their own.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		var errs []error
		for _, l := range s.listeners {
			if err := l.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ListenSpec pairs one Endpoint with the URI options its advertised
// connection string should carry (spec.md §6).
type ListenSpec struct {
	Endpoint Endpoint
	URI      URIOptions
}

// Server brings up one or more transports sharing a single Config and
// serves accepted connections until its context is cancelled.
type Server struct {
	cfg   *Config
	specs []ListenSpec

	mu        sync.Mutex
	listeners []net.Listener
}

// New builds a Server for the given listen specs. cfg.Exports must already
// be populated; cfg.TLSConfig governs whether NBD_OPT_STARTTLS is offered.
func New(cfg *Config, specs ...ListenSpec) *Server {
	return &Server{cfg: cfg, specs: specs}
}

// Run opens every configured listener, logs its connection URI, and serves
// connections until ctx is cancelled or a listener fails. It closes every
// listener before returning.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, spec := range s.specs {
		spec := spec
		ln, err := Listen(spec.Endpoint)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("server: listen %v: %w", spec.Endpoint, err)
		}

		s.mu.Lock()
		s.listeners = append(s.listeners, ln)
		s.mu.Unlock()

		if uri := BuildURI(spec.Endpoint, spec.URI); uri != "" {
			s.cfg.logger().Infof("serving on %s", uri)
		}

		g.Go(func() error {
			return s.acceptLoop(ctx, ln)
		})
	}

	go func() {
		<-ctx.Done()
		s.closeListeners()
	}()

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		id, err := newConnID()
		if err != nil {
			id = "conn"
		}
		nc := NewConnection(id, conn, s.cfg)

		go func() {
			if err := nc.Serve(ctx); err != nil {
				s.cfg.logger().WithError(err).WithField("conn_id", id).Debug("connection ended")
			}
		}()
	}
}

func newConnID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

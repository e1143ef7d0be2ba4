// Package rest serves the coordinator and the run ledger over HTTP.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"

	"slice2series/api/rest/routes"
	"slice2series/core/comm"
	"slice2series/core/repository"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server wraps the HTTP server the manager rank runs
type Server struct {
	srv    *http.Server
	logger *zap.Logger
	addr   string
	done   chan struct{}
	err    error
}

// NewServer creates a new server listening on addr
func NewServer(addr string, coord *comm.Coordinator, db *repository.DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()
	routes.SetupRoutes(r, coord, db, logger)

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: r},
		logger: logger,
		addr:   addr,
		done:   make(chan struct{}),
	}
}

// Start binds the listener and serves in the background. It returns the
// bound address, which differs from the configured one for port 0.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", err
	}
	bound := ln.Addr().String()
	s.logger.Info("coordinator listening", zap.String("addr", bound))

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.err = err
		close(s.done)
	}()
	return bound, nil
}

// Shutdown stops the server and waits for the serve loop to exit
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	<-s.done
	return s.err
}

// Wait blocks until the serve loop exits
func (s *Server) Wait() error {
	<-s.done
	return s.err
}

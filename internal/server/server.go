// Package server runs the ingest API's HTTP listener.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"salesforce-router/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv    *http.Server
	logger logging.Logger
	errCh  chan error
}

// New creates a server listening on port
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.WithFields(logging.String("component", "server")),
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind failures are
// returned directly; later serve failures arrive on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Listening", logging.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", err)
			s.errCh <- err
		}
	}()
	return nil
}

// Errors reports serve failures after Start
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

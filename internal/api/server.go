// Package api exposes the HTTP surface: uploads, submissions of existing
// media, status polling and media listing.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the HTTP listener until its context is cancelled.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled and
// in-flight requests have drained.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

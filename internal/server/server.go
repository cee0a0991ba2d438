package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ShutdownTimeout время на завершение активных запросов при остановке
const ShutdownTimeout = 10 * time.Second

// Server HTTP слушатель с graceful shutdown
type Server struct {
	logger *slog.Logger
	srv    *http.Server
	name   string
}

// New создает слушатель name на addr
func New(name, addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		logger: logger.With("listener", name),
		name:   name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Run слушает addr до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen %s on %s: %w", s.name, s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает ln до отмены ctx, затем ждет завершения запросов не дольше ShutdownTimeout.
// WebSocket соединения после upgrade не ждутся: их закрывает движок.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s listener failed: %w", s.name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down %s listener: %w", s.name, err)
	}
	<-errCh
	return nil
}

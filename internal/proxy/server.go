package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 30 * time.Second
)

// Server serves the proxy Handler until its context is cancelled.
type Server struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration

	// listening is closed once the listener is bound.
	listening chan struct{}
	boundAddr net.Addr
}

// NewServer creates a Server listening on all interfaces at port.
func NewServer(port int32, handler http.Handler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		Addr:            net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port))),
		Handler:         handler,
		ShutdownTimeout: shutdownTimeout,
		listening:       make(chan struct{}),
	}
}

// Start implements manager.Runnable.
func (s *Server) Start(ctx context.Context) error {
	logger := slog.Default().With("component", "proxy-server")

	var lc net.ListenConfig

	listener, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.Addr)
	}

	s.boundAddr = listener.Addr()
	close(s.listening)

	srv := &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.Serve(listener)
	}()

	logger.Info("proxy listening", "addr", s.boundAddr.String())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return errors.Wrap(err, "proxy server failed")
	case <-ctx.Done():
	}

	logger.Info("shutting down proxy", "timeout", s.ShutdownTimeout)

	//nolint:contextcheck // the parent context is already cancelled
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	//nolint:contextcheck // see above
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return errors.Wrap(err, "failed to shut down proxy server")
	}

	return nil
}

// NeedLeaderElection reports false: every replica serves traffic.
func (s *Server) NeedLeaderElection() bool {
	return false
}

// WaitListening blocks until the listener is bound and returns its address.
func (s *Server) WaitListening(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.listening:
		return s.boundAddr, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "proxy server did not start listening")
	}
}

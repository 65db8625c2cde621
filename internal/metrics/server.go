package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nimf/internal/reactor"
)

// Server exposes /metrics over HTTP. It is a reactor.Source but never posts
// to the loop; collectors are updated directly by the code that owns them.
type Server struct {
	addr    string
	metrics *Metrics
	logger  *slog.Logger
	routes  []func(*http.ServeMux)
	ln      net.Listener
}

// NewServer returns an HTTP source listening on addr.
func NewServer(addr string, m *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, metrics: m, logger: logger}
}

// Mount adds more handlers to the endpoint, e.g. health checks. Call it
// before Run.
func (s *Server) Mount(routes func(*http.ServeMux)) {
	s.routes = append(s.routes, routes)
}

func (s *Server) Name() string { return "metrics" }

// Listen binds the endpoint so a busy address is reported before the
// server starts. Run calls it when it has not been called.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, _ *reactor.Loop) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.serve(ctx, s.ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	for _, routes := range s.routes {
		routes(mux)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("metrics endpoint listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

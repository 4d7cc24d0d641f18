package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck probes one dependency for liveness. Probe must be safe for
// concurrent use and honor the context deadline.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) bool
}

// healthProbeTimeout bounds one /health request across all probes.
const healthProbeTimeout = 5 * time.Second

// Server exposes Prometheus metrics and a liveness endpoint over HTTP.
// /health reports 200 only while every registered dependency probe passes.
type Server struct {
	httpServer *http.Server
	checks     []HealthCheck
}

// NewServer creates the HTTP server on addr (e.g., ":9090") serving
// /metrics from the gatherer and /health from the given checks.
func NewServer(addr string, gatherer prometheus.Gatherer, checks ...HealthCheck) *Server {
	s := &Server{checks: checks}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	var failed []string
	for _, c := range s.checks {
		if !c.Probe(ctx) {
			failed = append(failed, c.Name)
		}
	}

	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "unhealthy: %s", strings.Join(failed, ", ")) //nolint:errcheck // best-effort response body
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck // best-effort response body
}

// Start begins serving without blocking. The returned channel yields an
// error if the listener fails and is closed when the server exits.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains active connections until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

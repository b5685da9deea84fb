package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusServer exposes a registry's metrics over HTTP at the
// configured path, implementing the Server interface.
type PrometheusServer struct {
	srv *http.Server
}

// NewPrometheusServer builds a Server that listens on addr and serves reg's
// metrics at path.
func NewPrometheusServer(addr, path string, reg *prometheus.Registry) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &PrometheusServer{
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start begins serving and blocks until ctx is canceled or ListenAndServe
// returns a non-shutdown error.
func (s *PrometheusServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

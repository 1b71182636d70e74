package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// MetricsServer exposes /metrics and /healthz on a dedicated listener.
type MetricsServer struct {
	addr string
	srv  *http.Server
	ln   net.Listener
}

// NewMetricsServer creates a server for handler on addr. It does not listen until Start.
func NewMetricsServer(addr string, handler http.Handler) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &MetricsServer{
		addr: addr,
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Start binds the listener and serves in the background.
func (s *MetricsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return exception.NewBatchError("metrics", "failed to listen on "+s.addr, err, false, false)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
	logger.Infof("Metrics server listening on %s.", ln.Addr())
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *MetricsServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

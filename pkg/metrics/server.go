package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
)

const (
	// Server timeouts
	defaultGracefulShutdownTimeout = 5 * time.Second
	defaultHealthCheckTimeout      = 5 * time.Second
)

// HealthChecker is a dependency consulted by the readiness probe.
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// Server exposes Prometheus metrics and health probes.
type Server struct {
	cfg             config.MetricsConfig
	logger          *zap.Logger
	registry        *prometheus.Registry
	instrumentation *Instrumentation
	httpServer      *http.Server
	checks          []HealthChecker
	serving         atomic.Bool
}

// NewServer builds a metrics server instance.
func NewServer(cfg config.MetricsConfig, logger *zap.Logger) *Server {
	reg := prometheus.NewRegistry()
	inst := NewInstrumentation(reg)

	return &Server{
		cfg:             cfg,
		logger:          logger,
		registry:        reg,
		instrumentation: inst,
	}
}

// Instrumentation returns the metrics instrumentation helper.
func (s *Server) Instrumentation() *Instrumentation {
	return s.instrumentation
}

// Registry returns the underlying Prometheus registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// AddHealthChecks registers dependencies checked by the readiness probe. It must be
// called before Start.
func (s *Server) AddHealthChecks(checks ...HealthChecker) {
	s.checks = append(s.checks, checks...)
}

// Handler returns the mux serving the probes and the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.HealthPath, s.livenessHandler())
	mux.Handle(s.cfg.ReadinessPath, s.readinessHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer(), promhttp.HandlerOpts{}))
	return mux
}

// Start launches the HTTP endpoints and blocks until context cancellation.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = srv

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("metrics server shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("metrics server listening", zap.String("addr", s.cfg.Address))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SetReady toggles whether the API listeners are serving.
func (s *Server) SetReady(ready bool) {
	s.serving.Store(ready)
}

// livenessHandler exposes a simple OK response for Kubernetes-style health probes.
func (s *Server) livenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// readinessHandler reports ready once the listeners are serving and every registered
// dependency passes its health check.
func (s *Server) readinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.serving.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), defaultHealthCheckTimeout)
		defer cancel()

		var wg sync.WaitGroup
		var failed atomic.Bool

		for _, check := range s.checks {
			wg.Add(1)
			go func(check HealthChecker) {
				defer wg.Done()
				if err := check.HealthCheck(ctx); err != nil {
					s.logger.Warn("health check failed",
						zap.String("dependency", check.Name()),
						zap.Error(err),
					)
					failed.Store(true)
				}
			}(check)
		}

		wg.Wait()

		if failed.Load() {
			http.Error(w, "dependency health check failed", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}

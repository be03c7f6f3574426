// Package httpapi exposes the lookup service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
	"github.com/gtriggiano/asn-lookup-service/pkg/indexmanager"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookup"
	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
)

const (
	defaultGracefulShutdownTimeout = 5 * time.Second
	// maxAddressInput is the longest bulk entry the body limit makes room for. Every
	// entry this long is an invalid address; the longest valid text form is 45 bytes.
	maxAddressInput = 256
	// worst case JSON encoding of one entry: every byte escaped as \uXXXX, quotes, comma
	bulkBytesPerAddress = maxAddressInput*6 + 3
	bulkEnvelopeBytes   = 4096
)

// Trigger schedules an asynchronous reload.
type Trigger interface {
	Trigger() bool
}

// Server is the HTTP API server.
type Server struct {
	cfg             config.ServerConfig
	service         *lookup.Service
	manager         *indexmanager.Manager
	trigger         Trigger
	logger          *zap.Logger
	instrumentation *metrics.Instrumentation
	validate        *validator.Validate
}

// NewServer builds the HTTP API server.
func NewServer(cfg config.ServerConfig, service *lookup.Service, manager *indexmanager.Manager, trigger Trigger, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		service:  service,
		manager:  manager,
		trigger:  trigger,
		logger:   logger,
		validate: validator.New(),
	}
}

// SetInstrumentation wires Prometheus instrumentation.
func (s *Server) SetInstrumentation(inst *metrics.Instrumentation) {
	s.instrumentation = inst
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/single", s.instrument("/single", s.handleSingle))
	r.Post("/bulk", s.instrument("/bulk", s.handleBulk))

	r.Route("/admin", func(r chi.Router) {
		r.Post("/reload", s.instrument("/admin/reload", s.handleReload))
		r.Get("/status", s.instrument("/admin/status", s.handleStatus))
	})

	return r
}

// Start begins serving and blocks until context cancellation or server error.
func (s *Server) Start(ctx context.Context, onReady func()) error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on address '%s': %w", s.cfg.Address, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.cfg.TLS != nil {
		tlsConfig, err := s.cfg.TLS.ServerTLS()
		if err != nil {
			listener.Close()
			return err
		}
		srv.TLSConfig = tlsConfig
	}

	if onReady != nil {
		onReady()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", s.cfg.Address), zap.Bool("tls", s.cfg.TLS != nil))

	if s.cfg.TLS != nil {
		err = srv.ServeTLS(listener, "", "")
	} else {
		err = srv.Serve(listener)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// instrument records per-route request metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.instrumentation.InFlight(route, 1)
		defer s.instrumentation.InFlight(route, -1)

		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		s.instrumentation.ObserveHTTPRequest(route, ww.Status(), time.Since(started))
	}
}

// accessLog logs every request at debug level.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

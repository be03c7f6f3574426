// Package envoyauthz serves the Envoy external authorization API as an enrichment
// hook: every request is allowed, and requests from covered addresses get the owning
// range, ASN and ISP attached as upstream headers.
package envoyauthz

import (
	"context"
	"fmt"
	"net"
	"time"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/gtriggiano/asn-lookup-service/pkg/config"
	"github.com/gtriggiano/asn-lookup-service/pkg/lookup"
)

const (
	// Server timeouts
	defaultGracefulShutdownTimeout = 5 * time.Second
)

// Server wraps the Envoy authorization gRPC server.
type Server struct {
	cfg        config.EnvoyConfig
	grpcServer *grpc.Server
	logger     *zap.Logger
}

// NewServer constructs the gRPC server and registers handlers.
func NewServer(cfg config.EnvoyConfig, service *lookup.Service, logger *zap.Logger) (*Server, error) {
	opts := []grpc.ServerOption{}
	if cfg.TLS != nil {
		tlsConfig, err := cfg.TLS.ServerTLS()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	grpcServer := grpc.NewServer(opts...)
	reflection.Register(grpcServer)
	authv3.RegisterAuthorizationServer(grpcServer, &authorizationService{service: service, logger: logger})

	return &Server{cfg: cfg, grpcServer: grpcServer, logger: logger}, nil
}

// Start begins serving and blocks until context cancellation or server error.
func (s *Server) Start(ctx context.Context, onReady func()) error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on address '%s': %w", s.cfg.Address, err)
	}

	if onReady != nil {
		onReady()
	}

	go func() {
		<-ctx.Done()
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(defaultGracefulShutdownTimeout):
			s.grpcServer.Stop()
		}
	}()

	s.logger.Info("gRPC server listening", zap.String("addr", s.cfg.Address))
	err = s.grpcServer.Serve(listener)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"closer/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the chain gateway.
// Each readiness dependency is also reported as ServiceName + "/" + check name.
const ServiceName = "closer.chain"

const (
	defaultHealthInterval = 15 * time.Second
	forceStopAfter        = 10 * time.Second
)

// GRPCServer serves grpc.health.v1 (and optionally reflection) for the
// gateway. Health follows the same dependency checks as /readyz.
type GRPCServer struct {
	cfg      *config.APIConfig
	health   *health.Server
	server   *grpc.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, logger *zerolog.Logger) (*GRPCServer, error) {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "grpc").Logger()
	}

	opts := []grpc.ServerOption{grpc.UnaryInterceptor(ChainUnaryInterceptors(
		RecoveryUnaryInterceptor(logger),
		LoggingUnaryInterceptor(logger),
		NewAuthInterceptor(cfg).Unary(),
	))}
	if cfg.GRPC.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.GRPC.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	srv := &GRPCServer{
		cfg:      cfg,
		health:   health.NewServer(),
		server:   grpc.NewServer(opts...),
		listener: lis,
		log:      log,
	}
	srv.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv.server, srv.health)
	if cfg.GRPC.Reflection {
		reflection.Register(srv.server)
	}
	return srv, nil
}

func buildTLSConfig(cfg config.APITLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("grpc tls enabled but cert_file/key_file not set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load grpc tls keypair: %w", err)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if !cfg.RequireClientCert {
		return tlsCfg, nil
	}

	pool, err := loadCertPool(cfg.ClientCAFile)
	if err != nil {
		return nil, err
	}
	tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	tlsCfg.ClientCAs = pool
	return tlsCfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, errors.New("grpc tls require_client_cert=true but client_ca_file not set")
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client_ca_file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse client_ca_file PEM")
	}
	return pool, nil
}

// SetServing flips the overall gateway status ("" and ServiceName).
func (s *GRPCServer) SetServing(serving bool) {
	st := servingStatus(serving)
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus("", st)
}

// WatchReadiness runs checks every interval and reports each one as its
// own health service. The overall status is SERVING only while every check
// passes. Blocks until ctx is done.
func (s *GRPCServer) WatchReadiness(ctx context.Context, checks []ReadinessCheck, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runChecks(ctx, checks)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *GRPCServer) runChecks(ctx context.Context, checks []ReadinessCheck) bool {
	ok := true
	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Check(checkCtx)
		cancel()
		if err != nil {
			ok = false
			s.log.Warn().Err(err).Str("check", check.Name).Msg("dependency not ready")
		}
		s.health.SetServingStatus(ServiceName+"/"+check.Name, servingStatus(err == nil))
	}
	s.SetServing(ok)
	return ok
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

// Shutdown reports NOT_SERVING to watchers, then drains in-flight calls
// until ctx expires.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(forceStopAfter)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	case <-timer.C:
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}

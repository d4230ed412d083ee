// Package grpcserver serves the standard gRPC health service backed by store readiness.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// LedgerServiceName is the health service name reported alongside the overall status.
	LedgerServiceName = "tokenmarket.Ledger"

	defaultCheckInterval = 15 * time.Second
	checkTimeout         = 3 * time.Second
)

// ErrMissingPinger is returned when no readiness check is supplied.
var ErrMissingPinger = errors.New("grpcserver: pinger is required")

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithCheckInterval sets how often readiness is re-checked.
func WithCheckInterval(interval time.Duration) Option {
	return func(server *Server) {
		if interval > 0 {
			server.checkInterval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// Server wraps a grpc.Server exposing grpc.health.v1.
type Server struct {
	grpcServer    *grpc.Server
	health        *health.Server
	pinger        Pinger
	checkInterval time.Duration
	logger        *zap.Logger
}

// New registers the health service. Status starts as NOT_SERVING until Serve pings the store.
func New(pinger Pinger, options ...Option) (*Server, error) {
	if pinger == nil {
		return nil, ErrMissingPinger
	}
	server := &Server{
		grpcServer:    grpc.NewServer(),
		health:        health.NewServer(),
		pinger:        pinger,
		checkInterval: defaultCheckInterval,
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		option(server)
	}
	healthpb.RegisterHealthServer(server.grpcServer, server.health)
	server.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return server, nil
}

// Refresh pings the store once and publishes the result.
func (server *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := server.pinger.Ping(checkCtx); err != nil {
		server.logger.Warn("store readiness check failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	server.setStatus(status)
	return status
}

// Serve accepts connections on listener until ctx is cancelled, then drains gracefully.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	server.Refresh(ctx)

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("grpc health listening", zap.String("addr", listener.Addr().String()))
		errCh <- server.grpcServer.Serve(listener)
	}()

	ticker := time.NewTicker(server.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			server.health.Shutdown()
			server.grpcServer.GracefulStop()
			return nil
		case <-ticker.C:
			server.Refresh(ctx)
		case err := <-errCh:
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("grpc serve: %w", err)
		}
	}
}

// ListenAndServe binds addr and calls Serve.
func (server *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return server.Serve(ctx, listener)
}

func (server *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	server.health.SetServingStatus("", status)
	server.health.SetServingStatus(LedgerServiceName, status)
}

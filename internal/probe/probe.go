// Package probe serves the standard gRPC health service so supervisors can
// check that the daemon and its store are alive.
package probe

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// StoreService is the health service name reporting storage reachability.
const StoreService = "carecompanion.Store"

const defaultCheckInterval = 30 * time.Second

// Pinger is satisfied by store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps a gRPC server exposing health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	store  Pinger
}

// New creates a probe server. Both the overall status and StoreService
// start as NOT_SERVING until the first Check.
func New(store Pinger) *Server {
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(StoreService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: gs, health: hs, store: store}
}

// Check pings the store and updates the serving status.
func (s *Server) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("Store health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(StoreService, status)
	s.health.SetServingStatus("", status)
}

// StartChecker runs Check immediately and then on every interval until ctx ends.
func (s *Server) StartChecker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	s.Check(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("Health probe listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

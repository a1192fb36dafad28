package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the name under which readiness is published besides "".
const Service = "sonosbridge"

// GRPCServer exposes the Checker as a grpc.health.v1 service.
type GRPCServer struct {
	port   int
	server *grpc.Server
	health *grpchealth.Server
}

// NewGRPC creates a gRPC health server mirroring c.
func NewGRPC(port int, c *Checker) *GRPCServer {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	c.Subscribe(func(ready bool) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if ready {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(Service, st)
	})

	return &GRPCServer{port: port, server: srv, health: hs}
}

// ListenAndServe binds the port and serves until ctx is cancelled.
func (g *GRPCServer) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc health listening", "port", g.port)
	return g.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		slog.Info("grpc health shutting down")
		g.health.Shutdown()
		g.server.GracefulStop()
	}()

	if err := g.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

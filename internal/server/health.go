package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// WorkerService is the health service name the worker reports under.
const WorkerService = "pdftext.worker"

// HealthServer is a gRPC server exposing only the standard health service.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	// Reflection for grpcurl
	reflection.Register(gs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(WorkerService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{grpc: gs, health: hs, logger: logger}
}

// SetServing flips both the overall and the worker status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(WorkerService, status)
	h.logger.Info("health status changed", "serving", serving)
}

// Serve listens on addr until ctx is done, then stops gracefully.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return h.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done.
func (h *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	h.logger.Info("gRPC health serving", "addr", lis.Addr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- h.grpc.Serve(lis) }()

	select {
	case <-ctx.Done():
		h.health.Shutdown()
		h.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

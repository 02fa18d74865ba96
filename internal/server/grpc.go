package server

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported by the gRPC health endpoint
const ServiceName = "ledger.scheduler.v1.Scheduler"

// HealthServer exposes grpc.health.v1 for orchestrators that probe over gRPC
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger *zap.Logger
}

// NewHealthServer listens on addr. Both the overall and the scheduler
// service status start as NOT_SERVING.
func NewHealthServer(addr string, logger *zap.Logger) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{grpc: srv, health: hs, lis: lis, logger: logger}, nil
}

// Addr returns the bound address
func (h *HealthServer) Addr() net.Addr {
	return h.lis.Addr()
}

// SetServing flips both statuses
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Serve blocks until Stop
func (h *HealthServer) Serve() error {
	h.logger.Info("grpc health listening", zap.String("addr", h.lis.Addr().String()))
	if err := h.grpc.Serve(h.lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks the service down and stops the server gracefully
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

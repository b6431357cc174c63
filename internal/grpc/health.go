package grpc

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/storefront/services/ecommerce/internal/health"
)

// HealthServer implements the gRPC health checking protocol
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	checker *health.Checker
	log     *zap.Logger
}

// NewHealthServer creates a new health check server
func NewHealthServer(checker *health.Checker, log *zap.Logger) *HealthServer {
	return &HealthServer{
		checker: checker,
		log:     log,
	}
}

// Check reports NOT_SERVING only when a critical dependency is down
func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: h.status(ctx)}, nil
}

// Watch sends the current status once
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, server grpc_health_v1.Health_WatchServer) error {
	return server.Send(&grpc_health_v1.HealthCheckResponse{Status: h.status(server.Context())})
}

func (h *HealthServer) status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	report := h.checker.Run(ctx)
	if report.Status == health.Unhealthy {
		h.log.Error("Health check failed", zap.Strings("failed", report.Failed))
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

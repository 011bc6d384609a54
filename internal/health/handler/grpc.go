package handler

import (
	"context"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health/grpc_health_v1"

	"coachhub/internal/logging"
)

// Server implements grpc.health.v1 for load balancers and orchestrators. Only the overall
// service ("") and the named service are known.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer
	checker *Checker
	service string
	log     logrus.FieldLogger
}

// NewServer returns a health server answering for service and for "".
func NewServer(checker *Checker, service string, log logrus.FieldLogger) *Server {
	return &Server{checker: checker, service: service, log: logging.OrDiscard(log)}
}

// Check reports SERVING when every readiness check passes. Failures become NOT_SERVING, never an RPC error.
func (s *Server) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != s.service {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN}, nil
	}
	if err := s.checker.Check(ctx); err != nil {
		s.log.WithError(err).Warn("health check failed")
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

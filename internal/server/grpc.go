package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthhandler "coachhub/internal/health/handler"
)

// NewGRPCServer returns the ops gRPC server: grpc.health.v1 plus reflection, traced with otelgrpc.
func NewGRPCServer(health *healthhandler.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, health)
	return s
}

// RegisterServices registers the ops services with s.
func RegisterServices(s grpc.ServiceRegistrar, health *healthhandler.Server) {
	grpc_health_v1.RegisterHealthServer(s, health)
	if r, ok := s.(reflection.GRPCServer); ok {
		reflection.Register(r)
	}
}

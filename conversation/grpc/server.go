// Package grpc exposes the relay's health over the standard gRPC health protocol.
package grpc

import (
	"context"
	"net"

	"mobile-chat/backend/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// RelayService is the service name reported to health probes
const RelayService = "mobile-chat.relay"

// HealthServer serves grpc.health.v1 for the relay
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	log    *logger.Logger
}

func NewHealthServer(log *logger.Logger) *HealthServer {
	if log == nil {
		log = logger.GetGlobal()
	}
	grpcServer := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, h)
	reflection.Register(grpcServer)

	h.SetServingStatus(RelayService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: grpcServer, health: h, log: log.WithComponent("grpc")}
}

// SetServing reports the relay, and the server as a whole, as serving or not
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(RelayService, status)
	s.health.SetServingStatus("", status)
}

// Serve accepts connections on lis until ctx is cancelled
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.log.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// StartGRPCServer listens on port and serves until ctx is cancelled
func (s *HealthServer) StartGRPCServer(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

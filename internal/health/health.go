// Package health exposes the standard gRPC health service for the collector.
package health

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tymiles003/FlowTrack/internal/logging"
)

// Service is the name reported for the collector pipeline. The empty name
// reports the server as a whole.
const Service = "flowtrack.Collector"

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	log    *logging.Logger
}

// Listen binds addr. Both the server and Service start as NOT_SERVING.
func Listen(addr string, log *logging.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{grpc: gs, health: hs, lis: lis, log: log}, nil
}

// Addr is the bound address.
func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// Start serves on its own goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Infow("gRPC health server starting", "addr", s.lis.Addr().String())
		if err := s.grpc.Serve(s.lis); err != nil {
			s.log.Errorw("gRPC health server stopped", "error", err)
		}
	}()
}

// SetServing flips the reported status of the server and Service.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Stop marks everything NOT_SERVING and drains open calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

package health

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/marketmonitor/internal/core/checkpoint"
	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// ServicePrefix prefixes per-stream gRPC health service names.
const ServicePrefix = "marketmonitor."

// ServiceName returns the gRPC health service name of a stream.
func ServiceName(stream domain.StreamKey) string {
	return ServicePrefix + stream.String()
}

// GRPCServer serves the standard gRPC health protocol. A stream reports
// SERVING only while it is live, i.e. after its reconciliation sweep has
// completed. The overall service ("") is SERVING when every stream is.
type GRPCServer struct {
	port   int
	health *grpchealth.Server
	server *grpc.Server

	mu   sync.Mutex
	live map[domain.StreamKey]bool
	log  *slog.Logger
}

// NewGRPCServer creates a health server for the given streams, all starting
// NOT_SERVING.
func NewGRPCServer(port int, streams ...domain.StreamKey) *GRPCServer {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	g := &GRPCServer{
		port:   port,
		health: hs,
		server: srv,
		live:   make(map[domain.StreamKey]bool, len(streams)),
		log:    slog.Default().With("component", "grpc-health"),
	}
	for _, s := range streams {
		g.live[s] = false
		hs.SetServingStatus(ServiceName(s), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

// Health exposes the underlying health service.
func (g *GRPCServer) Health() healthpb.HealthServer {
	return g.health
}

// OnTransition updates serving status from a pipeline state change. It is
// meant to be registered with checkpoint.Manager.SetStateChangeCallback.
func (g *GRPCServer) OnTransition(stream domain.StreamKey, t checkpoint.Transition) {
	g.SetServing(stream, t.To == checkpoint.StateLive)
}

// SetServing marks one stream serving or not.
func (g *GRPCServer) SetServing(stream domain.StreamKey, serving bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.live[stream] = serving
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(ServiceName(stream), status)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, live := range g.live {
		if !live {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	g.health.SetServingStatus("", overall)
}

// Start listens on the configured port and serves until Stop.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("failed to listen on %d: %w", g.port, err)
	}
	g.log.Info("gRPC health server listening", "port", g.port)
	return g.server.Serve(lis)
}

// Stop marks everything NOT_SERVING and stops the server.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name for the session API. The
// empty name reports overall server health and tracks it.
const HealthService = "codegen.orchestrator.Sessions"

// DefaultHealthInterval is how often Run re-reads the accepting state
const DefaultHealthInterval = 2 * time.Second

// Health publishes SERVING while the manager accepts spawns and NOT_SERVING
// once it stops.
type Health struct {
	srv       *health.Server
	accepting func() bool
}

// NewHealth creates a health service driven by accepting
func NewHealth(accepting func() bool) *Health {
	h := &Health{srv: health.NewServer(), accepting: accepting}
	h.Refresh()
	return h
}

// Register adds the health service to a gRPC server
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh sets the serving status from the current accepting state
func (h *Health) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.accepting() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(HealthService, status)
}

// Run refreshes the status every interval until ctx is done
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Refresh()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown marks every service NOT_SERVING; later updates are ignored
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

// Check is the in-process form of the health RPC
func (h *Health) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

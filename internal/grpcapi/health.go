// Package grpcapi hosts the gRPC side of the vendor access service: the
// standard health service and interceptors that other gRPC services use to
// enforce vendor grants.
package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"vendoraccess.org/internal/obs"
)

// ServiceName is the health-checked service name.
const ServiceName = "vendoraccess.v1.VendorAccess"

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Health drives a grpc health server from periodic probe results.
type Health struct {
	srv     *health.Server
	probe   ReadyProbe
	timeout time.Duration
}

// NewHealth returns a health server that starts NOT_SERVING until the first
// probe succeeds.
func NewHealth(probe ReadyProbe) *Health {
	h := &Health{srv: health.NewServer(), probe: probe, timeout: 2 * time.Second}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Check runs the probe once and publishes the result.
func (h *Health) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.probe.Ping(ctx); err != nil {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run checks every interval until ctx ends, then marks the service as
// shutting down.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	_ = h.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			if err := h.Check(ctx); err != nil {
				obs.LogEvent("warn", "grpc_health_not_serving", map[string]any{"error": err})
			}
		}
	}
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}

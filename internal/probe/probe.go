// Package probe exposes the standard gRPC health service, reporting SERVING
// while the credential store answers pings.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the named service reported alongside the overall status.
const ServiceName = "touchgrass.shell"

const pingTimeout = 2 * time.Second

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe polls a Pinger and mirrors the result into a gRPC health server.
type Probe struct {
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger

	health *health.Server
	server *grpc.Server

	mu      sync.Mutex
	serving bool
}

// New creates a probe that checks pinger every interval.
func New(pinger Pinger, interval time.Duration, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	p := &Probe{
		pinger:   pinger,
		interval: interval,
		logger:   logger,
		health:   hs,
		server:   srv,
	}
	p.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return p
}

// Check pings the dependency once and updates the reported status.
func (p *Probe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := p.pinger.Ping(ctx)

	p.mu.Lock()
	changed := p.serving != (err == nil)
	p.serving = err == nil
	p.mu.Unlock()

	if err != nil {
		p.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		if changed {
			p.logger.Warn("Readiness probe failing", "error", err)
		}
		return fmt.Errorf("ping: %w", err)
	}
	p.setStatus(healthpb.HealthCheckResponse_SERVING)
	if changed {
		p.logger.Info("Readiness probe serving")
	}
	return nil
}

// Serving reports the last observed status.
func (p *Probe) Serving() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serving
}

// Serve runs the health server on lis until ctx is done. Status changes
// come from Check, which Watch drives periodically.
func (p *Probe) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		p.health.Shutdown()
		p.server.GracefulStop()
	}()

	p.logger.Info("Starting gRPC health server", "addr", lis.Addr().String())
	if err := p.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

// Watch checks the dependency immediately and then every interval until ctx is done.
func (p *Probe) Watch(ctx context.Context) error {
	_ = p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = p.Check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Probe) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	p.health.SetServingStatus("", status)
	p.health.SetServingStatus(ServiceName, status)
}

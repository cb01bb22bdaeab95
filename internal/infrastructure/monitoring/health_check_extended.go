package monitoring

import (
	"context"
	"fmt"
	"time"

	"studiolink/internal/core/ports"
)

// SessionProbe is the part of the session the readiness checks look at.
type SessionProbe interface {
	Ready() bool
}

// AddTransportCheck fails while the transport has no handshake endpoint.
func (h *HealthChecker) AddTransportCheck(transport ports.Transport, timeout time.Duration) {
	h.AddCheck("transport", func(ctx context.Context) (bool, error) {
		if transport.Endpoint().Port == 0 {
			return false, fmt.Errorf("handshake endpoint not listening")
		}
		return true, nil
	}, timeout)
}

// AddDiscoveryCheck fails while neither advertising nor browsing runs.
func (h *HealthChecker) AddDiscoveryCheck(discovery ports.Discovery, timeout time.Duration) {
	h.AddCheck("discovery", func(ctx context.Context) (bool, error) {
		if !discovery.Advertising() && !discovery.Browsing() {
			return false, fmt.Errorf("discovery stopped")
		}
		return true, nil
	}, timeout)
}

// AddReadinessCheck reports the session loop and discovery together.
func (h *HealthChecker) AddReadinessCheck(session SessionProbe, timeout time.Duration) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		return session.Ready(), nil
	}, timeout)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the node is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

// Package health aggregates the liveness of capnet's dependencies into one
// service-level flag served by /api/health and used to gate startup.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthPinger is implemented by backends that can answer a cheap liveness
// probe (Redis PING). nil means reachable.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// HealthChecker is implemented by component-level checkers (store, dispatcher).
// IsHealthy must not block.
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ServiceHealthChecker is healthy only while every component is.
type ServiceHealthChecker struct {
	healthy atomic.Bool
	deps    []HealthChecker
	log     zerolog.Logger
}

// NewServiceHealthChecker starts unhealthy until the first Evaluate.
func NewServiceHealthChecker(log zerolog.Logger, deps ...HealthChecker) *ServiceHealthChecker {
	return &ServiceHealthChecker{deps: deps, log: log}
}

func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() }

// Components reports the cached flag of every dependency by name.
func (h *ServiceHealthChecker) Components() map[string]bool {
	out := make(map[string]bool, len(h.deps))
	for _, c := range h.deps {
		out[c.Name()] = c.IsHealthy()
	}
	return out
}

// Down lists the components currently reporting unhealthy.
func (h *ServiceHealthChecker) Down() []string {
	var down []string
	for _, c := range h.deps {
		if !c.IsHealthy() {
			down = append(down, c.Name())
		}
	}
	return down
}

// Evaluate refreshes the service flag and logs UP/DOWN transitions.
func (h *ServiceHealthChecker) Evaluate() bool {
	down := h.Down()
	cur := len(down) == 0
	if prev := h.healthy.Swap(cur); prev != cur {
		if cur {
			h.log.Info().Msg("service health: UP")
		} else {
			h.log.Error().Strs("down", down).Msg("service health: DOWN")
		}
	}
	return cur
}

// Start evaluates immediately and then on every tick until ctx ends.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Evaluate()
		}
	}
}

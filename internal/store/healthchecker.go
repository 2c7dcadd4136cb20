package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultProbeTimeout = 2 * time.Second

// StoreHealthChecker pings the active backend on an interval (Redis PING
// for kv; memory always answers). It logs only on state changes.
type StoreHealthChecker struct {
	facade       *Facade
	log          zerolog.Logger
	probeTimeout time.Duration

	healthy atomic.Bool
	checked atomic.Bool
	lastErr atomic.Value // string
}

func NewStoreHealthChecker(f *Facade, log zerolog.Logger, probeTimeout time.Duration) *StoreHealthChecker {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	hc := &StoreHealthChecker{facade: f, log: log, probeTimeout: probeTimeout}
	hc.lastErr.Store("")
	return hc
}

func (hc *StoreHealthChecker) Name() string { return "store" }

// IsHealthy returns the result of the most recent probe.
func (hc *StoreHealthChecker) IsHealthy() bool { return hc.healthy.Load() }

// LastError is the failure text of the most recent failed probe, or "".
func (hc *StoreHealthChecker) LastError() string { return hc.lastErr.Load().(string) }

// Check runs one probe and records the result.
func (hc *StoreHealthChecker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, hc.probeTimeout)
	defer cancel()

	err := hc.facade.HealthPing(ctx)
	ok := err == nil
	prev := hc.healthy.Swap(ok)
	first := !hc.checked.Swap(true)
	if ok {
		hc.lastErr.Store("")
		if !prev {
			hc.log.Debug().Str("checker", hc.Name()).Str("backend", hc.facade.Kind()).Msg("store reachable")
		}
		return true
	}
	hc.lastErr.Store(err.Error())
	if prev || first {
		hc.log.Error().Stack().Err(err).
			Str("checker", hc.Name()).
			Str("backend", hc.facade.Kind()).
			Msg("store health check failed")
	} else {
		hc.log.Debug().Err(err).Str("checker", hc.Name()).Msg("store still unreachable")
	}
	return false
}

// Start probes immediately and then on every tick until ctx ends.
func (hc *StoreHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hc.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.Check(ctx)
		}
	}
}

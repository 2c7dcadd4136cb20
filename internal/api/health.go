package api

import (
	"net/http"
	"time"

	"github.com/andperez123/capnet/internal/api/respond"
)

// Health GET /api/health
// Always 200; the body reports healthy/unhealthy from the background
// checkers. 500 means the handler itself failed.
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request) {
	state := "healthy"
	components := map[string]bool{}
	if h.health != nil {
		if !h.health.IsHealthy() {
			state = "unhealthy"
		}
		components = h.health.Components()
	}

	var trust, wake interface{}
	if h.cfg.ReputationEnabled() {
		trust = map[string]string{"url": h.cfg.TrustGraphURL}
	}
	if h.cfg.WakeNetURL != "" {
		wake = map[string]string{"url": h.cfg.WakeNetURL}
	}

	respond.WriteOK(w, map[string]interface{}{
		"service":    ServiceName,
		"version":    Version,
		"timestamp":  h.now().UTC().Format(time.RFC3339Nano),
		"status":     state,
		"components": components,
		"config": map[string]interface{}{
			"env":        string(h.cfg.Environment),
			"store":      h.store.Kind(),
			"trustgraph": trust,
			"wakenet":    wake,
			"ledger":     h.cfg.LedgerActive(),
		},
	})
}

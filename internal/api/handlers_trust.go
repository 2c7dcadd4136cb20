package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/api/respond"
	"github.com/andperez123/capnet/internal/api/validate"
	"github.com/andperez123/capnet/internal/config"
	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/status"
	"github.com/andperez123/capnet/internal/store"
	"github.com/andperez123/capnet/internal/trustgraph"
)

// TrustHandler proxies reputation lookups and runs integration checks for
// agents the caller owns.
type TrustHandler struct {
	cfg    *config.Config
	store  *store.Facade
	scorer Scorer
	prober *status.Prober
	events EventPublisher
	auth   sessionAuth
	log    zerolog.Logger
}

func NewTrustHandler(cfg *config.Config, f *store.Facade, scorer Scorer, prober *status.Prober, events EventPublisher, log zerolog.Logger) *TrustHandler {
	return &TrustHandler{
		cfg:    cfg,
		store:  f,
		scorer: scorer,
		prober: prober,
		events: events,
		auth:   sessionAuth{store: f, log: log},
		log:    log,
	}
}

type scoreResponse struct {
	OK bool `json:"ok"`
	model.TrustResult
}

// Score GET /api/trust/score?agentId=&window=30d
func (h *TrustHandler) Score(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDParam(r)
	if agentID == "" {
		respond.WriteBadRequest(w, "agentId required")
		return
	}
	s := h.auth.require(w, r)
	if s == nil || !h.auth.owns(w, r, s, agentID, http.StatusForbidden) {
		return
	}
	res := h.scorer.Score(r.Context(), agentID, r.URL.Query().Get("window"))
	respond.WriteJSON(w, http.StatusOK, scoreResponse{OK: true, TrustResult: res})
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMs *int64 `json:"latencyMs"`
}

// Verify POST /api/verify
func (h *TrustHandler) Verify(w http.ResponseWriter, r *http.Request) {
	s := h.auth.require(w, r)
	if s == nil {
		return
	}
	var req struct {
		AgentID json.RawMessage `json:"agentId"`
	}
	if err := decodeBody(r, &req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	agentID, _ := validate.OptionalString(req.AgentID)
	if agentID == "" {
		respond.WriteBadRequest(w, "agentId required")
		return
	}
	if !h.auth.owns(w, r, s, agentID, http.StatusForbidden) {
		return
	}

	ctx := r.Context()
	results := map[string]checkResult{
		"capnet":     toCheck(h.prober.ProbeURL(ctx, strings.TrimRight(h.cfg.APIBaseURL, "/")+"/api/status", "")),
		"trustgraph": {Status: status.StateOff},
	}
	if h.cfg.TrustGraphURL != "" {
		q := url.Values{"agentId": {agentID}, "window": {"30d"}}
		target := strings.TrimRight(h.cfg.TrustGraphURL, "/") + "/score?" + q.Encode()
		results["trustgraph"] = toCheck(h.prober.ProbeURL(ctx, target, h.cfg.TrustGraphAPIKey))
	}

	if _, err := h.store.AppendActivity(ctx, agentID, model.Activity{
		Type:    "verify",
		Message: "Integration verified",
		Source:  "operator",
		Extra:   map[string]any{"results": results},
	}); err != nil {
		h.log.Error().Err(err).Str("agent_id", agentID).Msg("verify activity append failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	h.events.Publish(trustgraph.AgentVerified(agentID, s.OperatorID))

	respond.WriteOK(w, map[string]interface{}{
		"message": "Verification complete",
		"results": results,
	})
}

func toCheck(p status.ProbeResult) checkResult {
	st := status.StateOK
	if !p.OK {
		st = status.StateError
	}
	latency := p.LatencyMs
	return checkResult{Status: st, LatencyMs: &latency}
}

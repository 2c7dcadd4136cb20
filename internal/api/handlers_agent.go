package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/api/respond"
	"github.com/andperez123/capnet/internal/api/validate"
	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store"
	"github.com/andperez123/capnet/internal/trustgraph"
)

var registerNextSteps = []string{
	"Add WakeNet feeds when available",
	"Emit TrustGraph events for outcomes",
	"Enable settlement when trust thresholds are met",
}

// AgentHandler serves the console's agent endpoints. Every route requires
// a session and, past listing, ownership of the addressed agent.
type AgentHandler struct {
	store  *store.Facade
	events EventPublisher
	auth   sessionAuth
	log    zerolog.Logger
}

func NewAgentHandler(f *store.Facade, events EventPublisher, log zerolog.Logger) *AgentHandler {
	return &AgentHandler{store: f, events: events, auth: sessionAuth{store: f, log: log}, log: log}
}

// Register POST /api/register-agent
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	s := h.auth.require(w, r)
	if s == nil {
		return
	}
	var req struct {
		AgentID json.RawMessage `json:"agentId"`
		Skills  json.RawMessage `json:"skills"`
	}
	if err := decodeBody(r, &req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	raw, _ := validate.OptionalString(req.AgentID)
	if validate.NonEmpty("agentId", raw) != nil {
		respond.WriteBadRequest(w, "agentId required")
		return
	}
	agentID, ok := h.store.Identities().NormalizeAgentID(raw)
	if !ok {
		respond.WriteBadRequest(w, "Invalid agentId format")
		return
	}

	ctx := r.Context()
	agent, err := h.store.UpsertAgent(ctx, model.AgentRegistration{
		AgentID:          agentID,
		OperatorID:       s.OperatorID,
		Email:            s.Email,
		Skills:           validate.Skills(req.Skills),
		ActivationStatus: model.DefaultActivationStatus,
	})
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", agentID).Msg("agent upsert failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	if _, err := h.store.AppendActivity(ctx, agentID, model.Activity{
		Type:    "agent_registered",
		Message: "Agent registered",
		Source:  "operator",
	}); err != nil {
		h.log.Error().Err(err).Str("agent_id", agentID).Msg("activity append failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	h.events.Publish(trustgraph.AgentRegistered(agentID, s.OperatorID))

	respond.WriteOK(w, map[string]interface{}{
		"agentId":          agent.AgentID,
		"operatorId":       agent.OperatorID,
		"activationStatus": model.DefaultActivationStatus,
		"message":          "Agent registered. You're in the network.",
		"nextSteps":        registerNextSteps,
	})
}

// List GET /api/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	s := h.auth.require(w, r)
	if s == nil {
		return
	}
	ctx := r.Context()
	ids, err := h.store.ListAgentIDsForOperator(ctx, s.OperatorID)
	if err != nil {
		h.log.Error().Err(err).Str("operator_id", s.OperatorID).Msg("list agents failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	agents := make([]*model.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := h.store.FindAgent(ctx, id)
		if err != nil {
			h.log.Error().Err(err).Str("agent_id", id).Msg("find agent failed")
			respond.WriteInternalError(w, "Server error")
			return
		}
		if a != nil {
			agents = append(agents, a)
		}
	}
	respond.WriteOK(w, map[string]interface{}{"agents": agents})
}

// Get GET /api/agent?agentId=
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDParam(r)
	if agentID == "" {
		respond.WriteBadRequest(w, "agentId required")
		return
	}
	s := h.auth.require(w, r)
	if s == nil || !h.auth.owns(w, r, s, agentID, http.StatusNotFound) {
		return
	}
	a, err := h.store.FindAgent(r.Context(), agentID)
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", agentID).Msg("find agent failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	if a == nil {
		respond.WriteNotFound(w, "Agent not found")
		return
	}
	respond.WriteOK(w, map[string]interface{}{"agent": a})
}

// Report POST /api/reports
func (h *AgentHandler) Report(w http.ResponseWriter, r *http.Request) {
	s := h.auth.require(w, r)
	if s == nil {
		return
	}
	var req struct {
		AgentID json.RawMessage `json:"agentId"`
		Message json.RawMessage `json:"message"`
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

	msg, _ := validate.OptionalString(req.Message)
	msg = strings.TrimSpace(msg)
	if err := validate.MaxLen("message", &msg, validate.MaxMessageLen); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if msg == "" {
		msg = "Report submitted"
	}
	if _, err := h.store.AppendActivity(r.Context(), agentID, model.Activity{
		Type:    "report",
		Message: msg,
		Source:  "operator",
	}); err != nil {
		h.log.Error().Err(err).Str("agent_id", agentID).Msg("report append failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	respond.WriteOK(w, map[string]interface{}{"message": "Report added"})
}

// Activity GET /api/activity?agentId=&limit=
func (h *AgentHandler) Activity(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDParam(r)
	if agentID == "" {
		respond.WriteBadRequest(w, "agentId required")
		return
	}
	s := h.auth.require(w, r)
	if s == nil || !h.auth.owns(w, r, s, agentID, http.StatusForbidden) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respond.WriteBadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}
	list, err := h.store.ListActivity(r.Context(), agentID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("agent_id", agentID).Msg("list activity failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	respond.WriteOK(w, map[string]interface{}{"activity": list})
}

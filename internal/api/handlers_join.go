package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/api/respond"
	"github.com/andperez123/capnet/internal/api/validate"
	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store"
)

// JoinHandler serves the public waitlist / self-registration form.
type JoinHandler struct {
	store *store.Facade
	log   zerolog.Logger
}

func NewJoinHandler(f *store.Facade, log zerolog.Logger) *JoinHandler {
	return &JoinHandler{store: f, log: log}
}

type joinRequest struct {
	Email       string          `json:"email"`
	AgentID     json.RawMessage `json:"agentId"`
	OperatorID  json.RawMessage `json:"operatorId"`
	Skills      json.RawMessage `json:"skills"`
	JustUpdates json.RawMessage `json:"justUpdates"`
}

// Join POST /api/join
func (h *JoinHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	email := strings.TrimSpace(req.Email)
	if validate.Email(email) != nil {
		respond.WriteBadRequest(w, "Valid email required")
		return
	}

	ids := h.store.Identities()
	var agentID, operatorID string
	if raw, ok := validate.OptionalString(req.AgentID); ok {
		if agentID, ok = ids.NormalizeAgentID(raw); !ok {
			respond.WriteBadRequest(w, "Invalid agentId format. Use agent:{namespace}:{id} or provide a valid id to normalize.")
			return
		}
	}
	if raw, ok := validate.OptionalString(req.OperatorID); ok {
		if operatorID, ok = ids.NormalizeOperatorID(raw); !ok {
			respond.WriteBadRequest(w, "Invalid operatorId format. Use operator:{namespace}:{id}.")
			return
		}
	}

	ctx := r.Context()
	if validate.Truthy(req.JustUpdates) || (agentID == "" && operatorID == "") {
		if _, err := h.store.AddJoinEvent(ctx, email); err != nil {
			h.fail(w, err, "join event")
			return
		}
		respond.WriteOK(w, map[string]interface{}{"message": "You're on the list. We'll be in touch."})
		return
	}

	op, err := h.store.FindOrCreateOperator(ctx, email, operatorID)
	if err != nil {
		h.fail(w, err, "operator")
		return
	}

	var agentOut interface{}
	message := "You're on the list."
	if agentID != "" {
		_, err := h.store.UpsertAgent(ctx, model.AgentRegistration{
			AgentID:    agentID,
			OperatorID: op.OperatorID,
			Email:      email,
			Skills:     validate.Skills(req.Skills),
		})
		if err != nil {
			h.fail(w, err, "agent")
			return
		}
		agentOut = agentID
		message = "Agent registered. You're in the network."
	}

	respond.WriteOK(w, map[string]interface{}{
		"operatorId": op.OperatorID,
		"agentId":    agentOut,
		"message":    message,
	})
}

func (h *JoinHandler) fail(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, model.ErrValidation) {
		respond.WriteBadRequest(w, "Valid email required")
		return
	}
	h.log.Error().Err(err).Str("step", what).Msg("join failed")
	respond.WriteInternalError(w, "Server error")
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/api/respond"
	"github.com/andperez123/capnet/internal/api/validate"
	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/session"
	"github.com/andperez123/capnet/internal/store"
	"github.com/andperez123/capnet/internal/trustgraph"
)

// OperatorHandler signs operators into the console.
type OperatorHandler struct {
	store  *store.Facade
	events EventPublisher
	auth   sessionAuth
	secure bool
	log    zerolog.Logger
}

func NewOperatorHandler(f *store.Facade, events EventPublisher, secureCookies bool, log zerolog.Logger) *OperatorHandler {
	return &OperatorHandler{
		store:  f,
		events: events,
		auth:   sessionAuth{store: f, log: log},
		secure: secureCookies,
		log:    log,
	}
}

// CreateSession POST /api/operator/session
func (h *OperatorHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	email := strings.TrimSpace(req.Email)
	if validate.Email(email) != nil {
		respond.WriteBadRequest(w, "Valid email required")
		return
	}

	ctx := r.Context()
	op, err := h.store.UpsertOperator(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			respond.WriteBadRequest(w, "Valid email required")
			return
		}
		h.log.Error().Err(err).Msg("operator upsert failed")
		respond.WriteInternalError(w, "Failed to create operator")
		return
	}

	token, err := session.NewToken()
	if err != nil {
		h.log.Error().Err(err).Msg("session token generation failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	if _, err := h.store.CreateSession(ctx, token, op.OperatorID, op.Email); err != nil {
		h.log.Error().Err(err).Str("operator_id", op.OperatorID).Msg("session create failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	session.SetCookie(w, token, h.secure)
	h.events.Publish(trustgraph.ConsoleVerified(op.OperatorID))

	respond.WriteOK(w, map[string]interface{}{
		"operatorId": op.OperatorID,
		"email":      op.Email,
		"createdAt":  op.CreatedAt,
	})
}

// Me GET /api/operator/me
func (h *OperatorHandler) Me(w http.ResponseWriter, r *http.Request) {
	s := h.auth.require(w, r)
	if s == nil {
		return
	}
	respond.WriteOK(w, map[string]interface{}{
		"operatorId": s.OperatorID,
		"email":      s.Email,
		"createdAt":  s.CreatedAt,
	})
}

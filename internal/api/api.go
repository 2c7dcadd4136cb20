// Package api is the HTTP surface of the directory service: public join and
// leaderboard endpoints, the operator console (session cookie auth) and
// health/status reporting.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/api/respond"
	"github.com/andperez123/capnet/internal/config"
	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/session"
	"github.com/andperez123/capnet/internal/status"
	"github.com/andperez123/capnet/internal/store"
)

const (
	ServiceName = "capnet-api"
	Version     = "0.1.0"

	maxBodyBytes = 64 << 10
)

// Scorer answers reputation lookups. *trustgraph.Reputation implements it.
type Scorer interface {
	Score(ctx context.Context, agentID, window string) model.TrustResult
}

// EventPublisher takes trust events off the request path.
// *trustgraph.Dispatcher implements it.
type EventPublisher interface {
	Publish(ev model.TrustEvent)
}

// HealthReporter exposes cached service health.
// *health.ServiceHealthChecker implements it.
type HealthReporter interface {
	IsHealthy() bool
	Components() map[string]bool
}

// Deps are the collaborators handlers need. Store and Config are required.
type Deps struct {
	Config     *config.Config
	Store      *store.Facade
	Reputation Scorer
	Events     EventPublisher
	Prober     *status.Prober
	Health     HealthReporter
	Log        zerolog.Logger
}

type noopPublisher struct{}

func (noopPublisher) Publish(model.TrustEvent) {}

type offScorer struct{}

func (offScorer) Score(context.Context, string, string) model.TrustResult {
	return model.TrustResult{Status: model.TrustStatusOff}
}

// decodeBody reads a JSON object into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

// sessionAuth resolves the console session from the request cookie.
type sessionAuth struct {
	store *store.Facade
	log   zerolog.Logger
}

// require writes 401 (or 500 on a store failure) and returns nil when the
// request has no live session.
func (a sessionAuth) require(w http.ResponseWriter, r *http.Request) *model.Session {
	token := session.FromRequest(r)
	if token == "" {
		respond.WriteUnauthorized(w, "Session required")
		return nil
	}
	s, err := a.store.GetSession(r.Context(), token)
	if err != nil {
		a.log.Error().Err(err).Msg("session lookup failed")
		respond.WriteInternalError(w, "Server error")
		return nil
	}
	if s == nil {
		respond.WriteUnauthorized(w, "Invalid or expired session")
		return nil
	}
	return s
}

// owns writes 403/404 (per notOwnedStatus) or 500 and returns false unless
// the session's operator owns agentID.
func (a sessionAuth) owns(w http.ResponseWriter, r *http.Request, s *model.Session, agentID string, notOwnedStatus int) bool {
	ok, err := a.store.IsOwnedBy(r.Context(), s.OperatorID, agentID)
	if err != nil {
		a.log.Error().Err(err).Str("agent_id", agentID).Msg("ownership check failed")
		respond.WriteInternalError(w, "Server error")
		return false
	}
	if !ok {
		if notOwnedStatus == http.StatusNotFound {
			respond.WriteNotFound(w, "Agent not found")
		} else {
			respond.WriteForbidden(w, "Agent not owned")
		}
		return false
	}
	return true
}

// agentIDParam reads agentId (or agentid) from the query string.
func agentIDParam(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("agentId"); v != "" {
		return v
	}
	return q.Get("agentid")
}

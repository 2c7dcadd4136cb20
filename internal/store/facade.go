package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/andperez123/capnet/internal/health"
	"github.com/andperez123/capnet/internal/identity"
	"github.com/andperez123/capnet/internal/metrics"
	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/session"
)

// Facade is the single persistence entry point for the service. The backend
// is chosen once at startup and never changes for the life of the process.
type Facade struct {
	backend    Store
	kind       string
	ids        *identity.Normalizer
	sessionTTL time.Duration
	now        func() time.Time
}

// NewFacade wraps backend. kind names the backend in metrics and health output.
func NewFacade(kind string, backend Store, ids *identity.Normalizer) *Facade {
	if ids == nil {
		ids = identity.New(identity.DefaultNamespace)
	}
	return &Facade{
		backend:    backend,
		kind:       kind,
		ids:        ids,
		sessionTTL: session.Lifetime,
		now:        time.Now,
	}
}

// Kind returns "kv" or "memory".
func (f *Facade) Kind() string { return f.kind }

// Identities returns the normalizer the facade assigns operator ids with.
func (f *Facade) Identities() *identity.Normalizer { return f.ids }

// HealthPing delegates to the backend when it supports pinging.
func (f *Facade) HealthPing(ctx context.Context) error {
	if p, ok := f.backend.(health.HealthPinger); ok {
		return p.HealthPing(ctx)
	}
	return nil
}

func (f *Facade) observe(op string, err error) error {
	metrics.StoreOp(f.kind, op, err)
	return err
}

// UpsertOperator returns the operator bound to email, creating one with an
// assigned id on first sight.
func (f *Facade) UpsertOperator(ctx context.Context, email string) (*model.Operator, error) {
	return f.FindOrCreateOperator(ctx, email, "")
}

// FindOrCreateOperator is UpsertOperator with a caller-preferred id used
// only when the email is new and the id is not held by another operator.
func (f *Facade) FindOrCreateOperator(ctx context.Context, email, preferredID string) (*model.Operator, error) {
	email = identity.NormalizeEmail(email)
	if !identity.ValidEmail(email) {
		return nil, fmt.Errorf("%w: invalid email", model.ErrValidation)
	}
	candidate := strings.TrimSpace(preferredID)
	if candidate == "" {
		candidate = f.ids.AssignOperatorID()
	}
	op, _, err := f.backend.Operators().Claim(ctx, email, candidate)
	if errors.Is(err, ErrOperatorIDTaken) {
		// preferred id belongs to another email: fall back to an assigned one
		op, _, err = f.backend.Operators().Claim(ctx, email, f.ids.AssignOperatorID())
	}
	return op, f.observe("upsert_operator", err)
}

// FindOperatorByEmail returns (nil, nil) for unknown emails.
func (f *Facade) FindOperatorByEmail(ctx context.Context, email string) (*model.Operator, error) {
	op, err := f.backend.Operators().GetByEmail(ctx, identity.NormalizeEmail(email))
	return op, f.observe("find_operator", err)
}

// UpsertAgent creates or replaces an agent record. Identifiers are expected
// to be normalized already.
func (f *Facade) UpsertAgent(ctx context.Context, reg model.AgentRegistration) (*model.Agent, error) {
	if reg.AgentID == "" || reg.OperatorID == "" {
		return nil, fmt.Errorf("%w: agentId and operatorId are required", model.ErrValidation)
	}
	reg.Email = identity.NormalizeEmail(reg.Email)
	a, err := f.backend.Agents().Upsert(ctx, reg)
	return a, f.observe("upsert_agent", err)
}

// FindAgent returns (nil, nil) for unknown agents.
func (f *Facade) FindAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	a, err := f.backend.Agents().Get(ctx, agentID)
	return a, f.observe("find_agent", err)
}

func (f *Facade) ListAgentIDsForOperator(ctx context.Context, operatorID string) ([]string, error) {
	ids, err := f.backend.Agents().ListIDsByOperator(ctx, operatorID)
	if ids == nil {
		ids = []string{}
	}
	return ids, f.observe("list_operator_agents", err)
}

func (f *Facade) IsOwnedBy(ctx context.Context, operatorID, agentID string) (bool, error) {
	if operatorID == "" || agentID == "" {
		return false, nil
	}
	ok, err := f.backend.Agents().BelongsTo(ctx, operatorID, agentID)
	return ok, f.observe("is_owned_by", err)
}

// GetLeaderboard returns the top agents by earnings without their email.
func (f *Facade) GetLeaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	agents, err := f.backend.Agents().All(ctx)
	if err != nil {
		return nil, f.observe("leaderboard", err)
	}
	return Leaderboard(agents), f.observe("leaderboard", nil)
}

// CreateSession stores token for the session lifetime.
func (f *Facade) CreateSession(ctx context.Context, token, operatorID, email string) (*model.Session, error) {
	s := model.Session{
		OperatorID: operatorID,
		Email:      identity.NormalizeEmail(email),
		CreatedAt:  f.now().UTC(),
	}
	if err := f.backend.Sessions().Create(ctx, token, s, f.sessionTTL); err != nil {
		return nil, f.observe("create_session", err)
	}
	return &s, f.observe("create_session", nil)
}

// GetSession returns (nil, nil) for unknown or expired tokens.
func (f *Facade) GetSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	s, err := f.backend.Sessions().Get(ctx, token)
	return s, f.observe("get_session", err)
}

// AppendActivity stores a at the head of the agent's log, filling id,
// type, source and timestamp when omitted, and returns what was stored.
func (f *Facade) AppendActivity(ctx context.Context, agentID string, a model.Activity) (model.Activity, error) {
	if a.ID == "" {
		a.ID = strings.ToLower(ulid.Make().String())
	}
	if a.Type == "" {
		a.Type = "note"
	}
	if a.Source == "" {
		a.Source = "operator"
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = f.now().UTC()
	}
	return a, f.observe("append_activity", f.backend.Activity().Append(ctx, agentID, a))
}

// ListActivity returns up to limit entries, newest first. A non-positive
// limit means DefaultActivityLimit.
func (f *Facade) ListActivity(ctx context.Context, agentID string, limit int) ([]model.Activity, error) {
	items, err := f.backend.Activity().List(ctx, agentID, ClampActivityLimit(limit))
	if items == nil {
		items = []model.Activity{}
	}
	return items, f.observe("list_activity", err)
}

// AddJoinEvent records a waitlist signal.
func (f *Facade) AddJoinEvent(ctx context.Context, email string) (model.JoinEvent, error) {
	e := model.JoinEvent{Email: identity.NormalizeEmail(email), JoinedAt: f.now().UTC()}
	return e, f.observe("add_join_event", f.backend.JoinEvents().Add(ctx, e))
}

func (f *Facade) JoinEventCount(ctx context.Context) (int64, error) {
	n, err := f.backend.JoinEvents().Count(ctx)
	return n, f.observe("count_join_events", err)
}

// GetTrustCache returns (nil, nil) on a miss or after expiry.
func (f *Facade) GetTrustCache(ctx context.Context, agentID, window string) (*model.TrustResult, error) {
	r, err := f.backend.TrustCache().Get(ctx, agentID, window)
	return r, f.observe("get_trust_cache", err)
}

func (f *Facade) SetTrustCache(ctx context.Context, agentID, window string, r model.TrustResult, ttl time.Duration) error {
	return f.observe("set_trust_cache", f.backend.TrustCache().Set(ctx, agentID, window, r, ttl))
}

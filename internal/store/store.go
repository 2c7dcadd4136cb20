package store

import (
	"context"
	"errors"
	"time"

	"github.com/andperez123/capnet/internal/model"
)

// ErrOperatorIDTaken is returned by Operators.Claim when candidateID already
// belongs to an operator bound to a different email.
var ErrOperatorIDTaken = errors.New("operator id already taken")

// Store exposes persistence operations required by the directory service.
// Implementations live under internal/store/<driver>/ (memory, kv).
//
// Lookups return (nil, nil) when the record is absent. Backends treat a
// stored record that cannot be decoded as absent.
type Store interface {
	Operators() Operators
	Agents() Agents
	Sessions() Sessions
	Activity() ActivityLog
	JoinEvents() JoinEvents
	TrustCache() TrustCache
}

type Operators interface {
	// Claim binds email to candidateID unless the email is already bound, in
	// which case the existing operator is returned. created reports whether
	// candidateID won. A candidateID held by another email is never
	// overwritten; Claim returns ErrOperatorIDTaken instead. email must
	// already be normalized.
	Claim(ctx context.Context, email, candidateID string) (op *model.Operator, created bool, err error)
	Get(ctx context.Context, operatorID string) (*model.Operator, error)
	GetByEmail(ctx context.Context, email string) (*model.Operator, error)
}

type Agents interface {
	// Upsert writes the agent record, carrying earnings and creation
	// timestamps forward from any previous record, and indexes it under the
	// operator and in the global set.
	Upsert(ctx context.Context, reg model.AgentRegistration) (*model.Agent, error)
	Get(ctx context.Context, agentID string) (*model.Agent, error)
	ListIDsByOperator(ctx context.Context, operatorID string) ([]string, error)
	BelongsTo(ctx context.Context, operatorID, agentID string) (bool, error)
	All(ctx context.Context) ([]*model.Agent, error)
}

type Sessions interface {
	Create(ctx context.Context, token string, s model.Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (*model.Session, error)
}

type ActivityLog interface {
	Append(ctx context.Context, agentID string, a model.Activity) error
	// List returns at most limit entries, most recent first.
	List(ctx context.Context, agentID string, limit int) ([]model.Activity, error)
}

type JoinEvents interface {
	Add(ctx context.Context, e model.JoinEvent) error
	Count(ctx context.Context) (int64, error)
}

type TrustCache interface {
	Get(ctx context.Context, agentID, window string) (*model.TrustResult, error)
	Set(ctx context.Context, agentID, window string, r model.TrustResult, ttl time.Duration) error
}

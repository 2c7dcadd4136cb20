// Package memory is the process-local store backend. State lives for the
// life of the process; every operation holds the store mutex so it is
// atomic with respect to concurrent handlers.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store"
)

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

// Store is an in-memory store.Store.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	operators      map[string]model.Operator
	operatorEmail  map[string]string
	operatorAgents map[string]map[string]struct{}
	agents         map[string]model.Agent
	activity       map[string][]model.Activity // oldest first
	sessions       map[string]expiring[model.Session]
	trust          map[string]expiring[model.TrustResult]
	joinEvents     []model.JoinEvent
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for expiry and timestamp decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:            time.Now,
		operators:      make(map[string]model.Operator),
		operatorEmail:  make(map[string]string),
		operatorAgents: make(map[string]map[string]struct{}),
		agents:         make(map[string]model.Agent),
		activity:       make(map[string][]model.Activity),
		sessions:       make(map[string]expiring[model.Session]),
		trust:          make(map[string]expiring[model.TrustResult]),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) Operators() store.Operators   { return operators{s} }
func (s *Store) Agents() store.Agents         { return agents{s} }
func (s *Store) Sessions() store.Sessions     { return sessions{s} }
func (s *Store) Activity() store.ActivityLog  { return activity{s} }
func (s *Store) JoinEvents() store.JoinEvents { return joinEvents{s} }
func (s *Store) TrustCache() store.TrustCache { return trustCache{s} }

// HealthPing always succeeds.
func (s *Store) HealthPing(context.Context) error { return nil }

// ---- operators ----

type operators struct{ s *Store }

func (o operators) Claim(_ context.Context, email, candidateID string) (*model.Operator, bool, error) {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.operatorEmail[email]; ok {
		if op, ok := s.operators[id]; ok {
			return &op, false, nil
		}
		// index without record: rebuild it under the bound id
		op := model.Operator{OperatorID: id, Email: email, CreatedAt: s.now().UTC()}
		s.operators[id] = op
		return &op, false, nil
	}
	if held, ok := s.operators[candidateID]; ok {
		if held.Email != email {
			return nil, false, store.ErrOperatorIDTaken
		}
		// record without index: rebind the email to it
		s.operatorEmail[email] = candidateID
		return &held, false, nil
	}
	op := model.Operator{OperatorID: candidateID, Email: email, CreatedAt: s.now().UTC()}
	s.operators[candidateID] = op
	s.operatorEmail[email] = candidateID
	return &op, true, nil
}

func (o operators) Get(_ context.Context, operatorID string) (*model.Operator, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	op, ok := o.s.operators[operatorID]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (o operators) GetByEmail(ctx context.Context, email string) (*model.Operator, error) {
	o.s.mu.RLock()
	id, ok := o.s.operatorEmail[email]
	o.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return o.Get(ctx, id)
}

// ---- agents ----

type agents struct{ s *Store }

func cloneAgent(a model.Agent) *model.Agent {
	a.Skills = slices.Clone(a.Skills)
	return &a
}

func (g agents) Upsert(_ context.Context, reg model.AgentRegistration) (*model.Agent, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *model.Agent
	if p, ok := s.agents[reg.AgentID]; ok {
		prev = &p
	}
	a := store.MergeAgent(prev, reg, s.now().UTC())
	s.agents[a.AgentID] = *a

	set, ok := s.operatorAgents[a.OperatorID]
	if !ok {
		set = make(map[string]struct{})
		s.operatorAgents[a.OperatorID] = set
	}
	set[a.AgentID] = struct{}{}
	return cloneAgent(*a), nil
}

func (g agents) Get(_ context.Context, agentID string) (*model.Agent, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	a, ok := g.s.agents[agentID]
	if !ok {
		return nil, nil
	}
	return cloneAgent(a), nil
}

func (g agents) ListIDsByOperator(_ context.Context, operatorID string) ([]string, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	set := g.s.operatorAgents[operatorID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (g agents) BelongsTo(_ context.Context, operatorID, agentID string) (bool, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	_, ok := g.s.operatorAgents[operatorID][agentID]
	return ok, nil
}

func (g agents) All(_ context.Context) ([]*model.Agent, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	out := make([]*model.Agent, 0, len(g.s.agents))
	for _, a := range g.s.agents {
		out = append(out, cloneAgent(a))
	}
	return out, nil
}

// ---- sessions ----

type sessions struct{ s *Store }

func (ss sessions) Create(_ context.Context, token string, sess model.Session, ttl time.Duration) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = expiring[model.Session]{value: sess, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get treats a session as expired once now reaches expiresAt and drops it.
func (ss sessions) Get(_ context.Context, token string) (*model.Session, error) {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, token)
		return nil, nil
	}
	v := e.value
	return &v, nil
}

// ---- activity ----

type activity struct{ s *Store }

func (l activity) Append(_ context.Context, agentID string, a model.Activity) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.activity[agentID] = append(l.s.activity[agentID], a)
	return nil
}

func (l activity) List(_ context.Context, agentID string, limit int) ([]model.Activity, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	log := l.s.activity[agentID]
	n := min(limit, len(log))
	out := make([]model.Activity, 0, n)
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

// ---- join events ----

type joinEvents struct{ s *Store }

func (j joinEvents) Add(_ context.Context, e model.JoinEvent) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	j.s.joinEvents = append(j.s.joinEvents, e)
	return nil
}

func (j joinEvents) Count(_ context.Context) (int64, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	return int64(len(j.s.joinEvents)), nil
}

// ---- trust cache ----

type trustCache struct{ s *Store }

func trustKey(agentID, window string) string { return agentID + ":" + window }

// Get keeps an entry valid while now <= expiresAt.
func (c trustCache) Get(_ context.Context, agentID, window string) (*model.TrustResult, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := trustKey(agentID, window)
	e, ok := s.trust[k]
	if !ok {
		return nil, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.trust, k)
		return nil, nil
	}
	v := e.value
	return &v, nil
}

func (c trustCache) Set(_ context.Context, agentID, window string, r model.TrustResult, ttl time.Duration) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trust[trustKey(agentID, window)] = expiring[model.TrustResult]{value: r, expiresAt: s.now().Add(ttl)}
	return nil
}

// Package kv is the durable store backend on Redis. All keys share one
// prefix; the schema is:
//
//	operator:{id}                  string JSON
//	operator:byemail:{email}       string operator id, claimed with SETNX
//	operator:{id}:agents           set of agent ids
//	agent:{id}                     string JSON
//	agents:all                     set of agent ids
//	activity:{agentId}             list JSON, newest at the head
//	session:{token}                string JSON, expires with the session
//	trustcache:{agentId}:{window}  string JSON, expires with the cache TTL
//	joinevents                     list JSON, append only
//
// Records that fail to decode are treated as absent. Multi-key writes are
// pipelined, not transactional.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store"
)

const DefaultPrefix = "capnet:"

// Store is a Redis-backed store.Store.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Store{rdb: rdb, prefix: prefix, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open parses a redis:// or rediss:// URL into a client. A non-empty token
// overrides the password carried by the URL.
func Open(rawURL, token string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("kv: parse url: %w", err)
	}
	if token != "" {
		opts.Password = token
	}
	return redis.NewClient(opts), nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) Operators() store.Operators   { return operators{s} }
func (s *Store) Agents() store.Agents         { return agents{s} }
func (s *Store) Sessions() store.Sessions     { return sessions{s} }
func (s *Store) Activity() store.ActivityLog  { return activity{s} }
func (s *Store) JoinEvents() store.JoinEvents { return joinEvents{s} }
func (s *Store) TrustCache() store.TrustCache { return trustCache{s} }

// HealthPing issues PING.
func (s *Store) HealthPing(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv: ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) operatorKey(id string) string         { return s.prefix + "operator:" + id }
func (s *Store) operatorEmailKey(email string) string { return s.prefix + "operator:byemail:" + email }
func (s *Store) operatorAgentsKey(id string) string   { return s.prefix + "operator:" + id + ":agents" }
func (s *Store) agentKey(id string) string            { return s.prefix + "agent:" + id }
func (s *Store) agentsAllKey() string                 { return s.prefix + "agents:all" }
func (s *Store) activityKey(agentID string) string    { return s.prefix + "activity:" + agentID }
func (s *Store) sessionKey(token string) string       { return s.prefix + "session:" + token }
func (s *Store) joinEventsKey() string                { return s.prefix + "joinevents" }
func (s *Store) trustKey(agentID, window string) string {
	return s.prefix + "trustcache:" + agentID + ":" + window
}

// getJSON loads key into v. found is false when the key is missing or the
// stored value does not decode.
func (s *Store) getJSON(ctx context.Context, key string, v any) (found bool, err error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if json.Unmarshal(raw, v) != nil {
		return false, nil
	}
	return true, nil
}

// ---- operators ----

type operators struct{ s *Store }

// releaseEmail drops the email index only while it still points at the
// given id.
var releaseEmail = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (o operators) Claim(ctx context.Context, email, candidateID string) (*model.Operator, bool, error) {
	s := o.s
	won, err := s.rdb.SetNX(ctx, s.operatorEmailKey(email), candidateID, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("kv: claim operator email: %w", err)
	}
	if won {
		op := &model.Operator{OperatorID: candidateID, Email: email, CreatedAt: s.now().UTC()}
		held, err := s.claimOperatorRecord(ctx, op)
		if err != nil {
			return nil, false, err
		}
		if held == nil {
			return op, true, nil
		}
		if held.Email == email {
			return held, false, nil
		}
		if err := releaseEmail.Run(ctx, s.rdb, []string{s.operatorEmailKey(email)}, candidateID).Err(); err != nil {
			return nil, false, fmt.Errorf("kv: release operator email: %w", err)
		}
		return nil, false, store.ErrOperatorIDTaken
	}

	id, err := s.rdb.Get(ctx, s.operatorEmailKey(email)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("kv: get operator email index: %w", err)
	}
	op, err := o.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if op == nil {
		// index survived without its record: rebuild the record under the bound id
		op = &model.Operator{OperatorID: id, Email: email, CreatedAt: s.now().UTC()}
		held, err := s.claimOperatorRecord(ctx, op)
		if err != nil {
			return nil, false, err
		}
		if held != nil && held.Email == email {
			op = held
		}
	}
	return op, false, nil
}

// claimOperatorRecord writes op only if no record exists under its id. It
// returns nil when the write won, otherwise the record already held there.
func (s *Store) claimOperatorRecord(ctx context.Context, op *model.Operator) (*model.Operator, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("kv: encode operator: %w", err)
	}
	won, err := s.rdb.SetNX(ctx, s.operatorKey(op.OperatorID), b, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: set operator: %w", err)
	}
	if won {
		return nil, nil
	}
	var held model.Operator
	found, err := s.getJSON(ctx, s.operatorKey(op.OperatorID), &held)
	if err != nil {
		return nil, fmt.Errorf("kv: get operator: %w", err)
	}
	if !found {
		// undecodable record: the id cannot be proven free
		return &model.Operator{OperatorID: op.OperatorID}, nil
	}
	return &held, nil
}

func (o operators) Get(ctx context.Context, operatorID string) (*model.Operator, error) {
	var op model.Operator
	found, err := o.s.getJSON(ctx, o.s.operatorKey(operatorID), &op)
	if err != nil {
		return nil, fmt.Errorf("kv: get operator: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &op, nil
}

func (o operators) GetByEmail(ctx context.Context, email string) (*model.Operator, error) {
	id, err := o.s.rdb.Get(ctx, o.s.operatorEmailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get operator email index: %w", err)
	}
	return o.Get(ctx, id)
}

// ---- agents ----

type agents struct{ s *Store }

func (g agents) Upsert(ctx context.Context, reg model.AgentRegistration) (*model.Agent, error) {
	s := g.s
	prev, err := g.Get(ctx, reg.AgentID)
	if err != nil {
		return nil, err
	}
	a := store.MergeAgent(prev, reg, s.now().UTC())
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("kv: encode agent: %w", err)
	}
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.agentKey(a.AgentID), b, 0)
		pipe.SAdd(ctx, s.operatorAgentsKey(a.OperatorID), a.AgentID)
		pipe.SAdd(ctx, s.agentsAllKey(), a.AgentID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: upsert agent: %w", err)
	}
	return a, nil
}

func (g agents) Get(ctx context.Context, agentID string) (*model.Agent, error) {
	var a model.Agent
	found, err := g.s.getJSON(ctx, g.s.agentKey(agentID), &a)
	if err != nil {
		return nil, fmt.Errorf("kv: get agent: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &a, nil
}

func (g agents) ListIDsByOperator(ctx context.Context, operatorID string) ([]string, error) {
	ids, err := g.s.rdb.SMembers(ctx, g.s.operatorAgentsKey(operatorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: list operator agents: %w", err)
	}
	return ids, nil
}

func (g agents) BelongsTo(ctx context.Context, operatorID, agentID string) (bool, error) {
	ok, err := g.s.rdb.SIsMember(ctx, g.s.operatorAgentsKey(operatorID), agentID).Result()
	if err != nil {
		return false, fmt.Errorf("kv: check ownership: %w", err)
	}
	return ok, nil
}

// All loads every agent in agents:all with one MGET. Missing or malformed
// records are skipped.
func (g agents) All(ctx context.Context) ([]*model.Agent, error) {
	s := g.s
	ids, err := s.rdb.SMembers(ctx, s.agentsAllKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: list agents: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.agentKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: load agents: %w", err)
	}
	out := make([]*model.Agent, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a model.Agent
		if json.Unmarshal([]byte(raw), &a) != nil {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

// ---- sessions ----

type sessions struct{ s *Store }

func (ss sessions) Create(ctx context.Context, token string, sess model.Session, ttl time.Duration) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("kv: encode session: %w", err)
	}
	if err := ss.s.rdb.Set(ctx, ss.s.sessionKey(token), b, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set session: %w", err)
	}
	return nil
}

func (ss sessions) Get(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	found, err := ss.s.getJSON(ctx, ss.s.sessionKey(token), &sess)
	if err != nil {
		return nil, fmt.Errorf("kv: get session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &sess, nil
}

// ---- activity ----

type activity struct{ s *Store }

func (l activity) Append(ctx context.Context, agentID string, a model.Activity) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("kv: encode activity: %w", err)
	}
	if err := l.s.rdb.LPush(ctx, l.s.activityKey(agentID), b).Err(); err != nil {
		return fmt.Errorf("kv: append activity: %w", err)
	}
	return nil
}

// List reads the head of the list. Entries that do not decode come back as
// a synthesized note carrying the raw text.
func (l activity) List(ctx context.Context, agentID string, limit int) ([]model.Activity, error) {
	raws, err := l.s.rdb.LRange(ctx, l.s.activityKey(agentID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: list activity: %w", err)
	}
	out := make([]model.Activity, 0, len(raws))
	for _, raw := range raws {
		var a model.Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			a = model.Activity{
				ID:        strings.ToLower(ulid.Make().String()),
				Type:      "note",
				Message:   raw,
				Source:    "operator",
				Timestamp: l.s.now().UTC(),
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// ---- join events ----

type joinEvents struct{ s *Store }

func (j joinEvents) Add(ctx context.Context, e model.JoinEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kv: encode join event: %w", err)
	}
	if err := j.s.rdb.RPush(ctx, j.s.joinEventsKey(), b).Err(); err != nil {
		return fmt.Errorf("kv: add join event: %w", err)
	}
	return nil
}

func (j joinEvents) Count(ctx context.Context) (int64, error) {
	n, err := j.s.rdb.LLen(ctx, j.s.joinEventsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: count join events: %w", err)
	}
	return n, nil
}

// ---- trust cache ----

type trustCache struct{ s *Store }

func (c trustCache) Get(ctx context.Context, agentID, window string) (*model.TrustResult, error) {
	var r model.TrustResult
	found, err := c.s.getJSON(ctx, c.s.trustKey(agentID, window), &r)
	if err != nil {
		return nil, fmt.Errorf("kv: get trust cache: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}

func (c trustCache) Set(ctx context.Context, agentID, window string, r model.TrustResult, ttl time.Duration) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("kv: encode trust result: %w", err)
	}
	if err := c.s.rdb.Set(ctx, c.s.trustKey(agentID, window), b, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set trust cache: %w", err)
	}
	return nil
}

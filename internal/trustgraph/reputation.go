package trustgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/metrics"
	"github.com/andperez123/capnet/internal/model"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 90 * time.Second
	DefaultWindow   = "30d"
)

// Cache is the slice of the store facade the proxy needs.
type Cache interface {
	GetTrustCache(ctx context.Context, agentID, window string) (*model.TrustResult, error)
	SetTrustCache(ctx context.Context, agentID, window string, r model.TrustResult, ttl time.Duration) error
}

type ReputationConfig struct {
	BaseURL  string
	APIKey   string
	Enabled  bool
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Reputation proxies score lookups to TrustGraph and caches successful
// answers per (agent, window).
type Reputation struct {
	client *resty.Client
	cfg    ReputationConfig
	cache  Cache
	log    zerolog.Logger
	now    func() time.Time
}

func NewReputation(cfg ReputationConfig, cache Cache, log zerolog.Logger) *Reputation {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return &Reputation{client: c, cfg: cfg, cache: cache, log: log, now: time.Now}
}

// Enabled reports whether lookups may reach the network.
func (r *Reputation) Enabled() bool {
	return r.cfg.Enabled && r.cfg.BaseURL != ""
}

// candidate is one endpoint shape TrustGraph may expose.
type candidate struct {
	path   string
	params func(agentID, window string) (path map[string]string, query map[string]string)
}

var candidates = []candidate{
	{"/trust/agents/{id}", func(id, w string) (map[string]string, map[string]string) {
		return map[string]string{"id": id}, map[string]string{"window": w}
	}},
	{"/agent/{id}", func(id, w string) (map[string]string, map[string]string) {
		return map[string]string{"id": id}, map[string]string{"window": w}
	}},
	{"/score", func(id, w string) (map[string]string, map[string]string) {
		return nil, map[string]string{"agentId": id, "window": w}
	}},
}

// Score returns the reputation of agentID over window. The result is never
// an error value; failures come back with Status "error".
func (r *Reputation) Score(ctx context.Context, agentID, window string) model.TrustResult {
	if window == "" {
		window = DefaultWindow
	}
	if !r.Enabled() {
		metrics.Reputation(model.TrustStatusOff)
		return model.TrustResult{Status: model.TrustStatusOff}
	}

	if cached := r.cached(ctx, agentID, window); cached != nil {
		cached.Cached = true
		metrics.Reputation(cached.Status)
		return *cached
	}

	res := r.fetch(ctx, agentID, window)
	metrics.Reputation(res.Status)
	if res.Status == model.TrustStatusOK && r.cache != nil {
		if err := r.cache.SetTrustCache(ctx, agentID, window, res, r.cfg.CacheTTL); err != nil {
			r.log.Warn().Err(err).Str("agent_id", agentID).Msg("trust cache write failed")
		}
	}
	return res
}

func (r *Reputation) cached(ctx context.Context, agentID, window string) *model.TrustResult {
	if r.cache == nil {
		return nil
	}
	hit, err := r.cache.GetTrustCache(ctx, agentID, window)
	if err != nil {
		r.log.Warn().Err(err).Str("agent_id", agentID).Msg("trust cache read failed")
		hit = nil
	}
	metrics.TrustCache(hit != nil)
	return hit
}

func (r *Reputation) fetch(ctx context.Context, agentID, window string) model.TrustResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := r.now()
	var (
		resp *resty.Response
		body scoreBody
	)
	for _, c := range candidates {
		pathParams, query := c.params(agentID, window)
		req := r.client.R().SetContext(ctx).SetQueryParams(query)
		if pathParams != nil {
			req.SetPathParams(pathParams)
		}
		var err error
		resp, err = req.Get(c.path)
		if err != nil {
			return model.TrustResult{
				Status:    model.TrustStatusError,
				Error:     failureReason(ctx, err),
				LatencyMs: r.now().Sub(start).Milliseconds(),
				CheckedAt: r.now().UTC().Format(time.RFC3339Nano),
			}
		}
		body = parseScoreBody(resp.Body())
		if resp.IsSuccess() && body.score() != nil {
			break
		}
	}

	now := r.now()
	res := model.TrustResult{
		Status:     model.TrustStatusOK,
		Score:      body.score(),
		UpdatedAt:  body.updatedAt(now),
		LatencyMs:  now.Sub(start).Milliseconds(),
		CheckedAt:  now.UTC().Format(time.RFC3339Nano),
		Scores:     body.Scores,
		Rank7d:     body.Rank7d,
		ProofCount: body.ProofCount,
	}
	if !resp.IsSuccess() {
		res.Status = model.TrustStatusError
		res.Error = fmt.Sprintf("status %d", resp.StatusCode())
	}
	return res
}

// failureReason maps a transport error to "timeout" or its message.
func failureReason(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// scoreBody is the union of the fields TrustGraph endpoints answer with.
type scoreBody struct {
	Composite    *float64
	ScoreField   *float64
	Value        *float64
	LastVerified string
	UpdatedAt    string
	Scores       json.RawMessage
	Rank7d       *float64
	ProofCount   *float64
}

// parseScoreBody reads the fields leniently; a field of the wrong JSON type
// is ignored and a body that is not an object yields the zero value.
func parseScoreBody(b []byte) scoreBody {
	var raw map[string]json.RawMessage
	if json.Unmarshal(b, &raw) != nil {
		return scoreBody{}
	}
	num := func(k string) *float64 {
		v, ok := raw[k]
		if !ok {
			return nil
		}
		var f float64
		if json.Unmarshal(v, &f) != nil {
			return nil
		}
		return &f
	}
	str := func(k string) string {
		var s string
		if v, ok := raw[k]; ok && json.Unmarshal(v, &s) == nil {
			return s
		}
		return ""
	}
	out := scoreBody{
		Composite:    num("composite"),
		ScoreField:   num("score"),
		Value:        num("value"),
		LastVerified: str("lastVerified"),
		UpdatedAt:    str("updatedAt"),
		Rank7d:       num("rank7d"),
		ProofCount:   num("proofCount"),
	}
	if v, ok := raw["scores"]; ok && string(v) != "null" {
		out.Scores = v
	}
	return out
}

func (b scoreBody) score() *float64 {
	switch {
	case b.Composite != nil:
		return b.Composite
	case b.ScoreField != nil:
		return b.ScoreField
	default:
		return b.Value
	}
}

func (b scoreBody) updatedAt(now time.Time) string {
	switch {
	case b.LastVerified != "":
		return b.LastVerified
	case b.UpdatedAt != "":
		return b.UpdatedAt
	default:
		return now.UTC().Format(time.RFC3339Nano)
	}
}

package trustgraph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andperez123/capnet/internal/model"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]model.TrustResult
	ttls    map[string]time.Duration
	getErr  error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]model.TrustResult{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) GetTrustCache(_ context.Context, agentID, window string) (*model.TrustResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	r, ok := c.entries[agentID+"|"+window]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *fakeCache) SetTrustCache(_ context.Context, agentID, window string, r model.TrustResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[agentID+"|"+window] = r
	c.ttls[agentID+"|"+window] = ttl
	return nil
}

func newRep(url string, cache Cache) *Reputation {
	return NewReputation(ReputationConfig{BaseURL: url, APIKey: "tg-key", Enabled: true}, cache, zerolog.Nop())
}

func TestScore_OffWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	cache := newFakeCache()
	cache.getErr = errors.New("must not be read")

	disabled := NewReputation(ReputationConfig{BaseURL: srv.URL, Enabled: false}, cache, zerolog.Nop())
	assert.Equal(t, model.TrustResult{Status: model.TrustStatusOff}, disabled.Score(context.Background(), "agent:praxis:a", "30d"))

	unset := NewReputation(ReputationConfig{Enabled: true}, cache, zerolog.Nop())
	assert.False(t, unset.Enabled())
	assert.Equal(t, model.TrustStatusOff, unset.Score(context.Background(), "agent:praxis:a", "").Status)
	assert.Zero(t, hits.Load())
}

func TestScore_FirstCandidateAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/trust/agents/agent:praxis:a", r.URL.Path)
		assert.Equal(t, "7d", r.URL.Query().Get("window"))
		assert.Equal(t, "Bearer tg-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"composite":0.91,"score":0.1,"lastVerified":"2025-05-05T00:00:00Z","scores":{"reliability":0.9},"rank7d":4,"proofCount":17}`))
	}))
	defer srv.Close()

	cache := newFakeCache()
	rep := newRep(srv.URL+"/", cache)
	ctx := context.Background()

	first := rep.Score(ctx, "agent:praxis:a", "7d")
	require.Equal(t, model.TrustStatusOK, first.Status)
	require.NotNil(t, first.Score)
	assert.Equal(t, 0.91, *first.Score)
	assert.Equal(t, "2025-05-05T00:00:00Z", first.UpdatedAt)
	assert.JSONEq(t, `{"reliability":0.9}`, string(first.Scores))
	assert.Equal(t, 4.0, *first.Rank7d)
	assert.Equal(t, 17.0, *first.ProofCount)
	assert.NotEmpty(t, first.CheckedAt)
	assert.False(t, first.Cached)
	assert.Equal(t, DefaultCacheTTL, cache.ttls["agent:praxis:a|7d"])

	second := rep.Score(ctx, "agent:praxis:a", "7d")
	assert.True(t, second.Cached)
	assert.Equal(t, 0.91, *second.Score)
	assert.EqualValues(t, 1, hits.Load(), "cache hit must not reach the network")
}

func TestScore_ZeroLatencyKeepsShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"score":0.5}`))
	}))
	defer srv.Close()

	rep := newRep(srv.URL, nil)
	frozen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rep.now = func() time.Time { return frozen }

	res := rep.Score(context.Background(), "agent:praxis:a", "30d")
	require.Equal(t, model.TrustStatusOK, res.Status)
	assert.Zero(t, res.LatencyMs)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, k := range []string{"status", "score", "updatedAt", "latencyMs", "checkedAt"} {
		assert.Contains(t, fields, k)
	}
	assert.EqualValues(t, 0, fields["latencyMs"])
}

func TestScore_FallsBackThroughCandidates(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/trust/agents/agent:praxis:b":
			w.WriteHeader(http.StatusNotFound)
		case "/agent/agent:praxis:b":
			_, _ = w.Write([]byte(`{"name":"no score here"}`))
		case "/score":
			assert.Equal(t, "agent:praxis:b", r.URL.Query().Get("agentId"))
			_, _ = w.Write([]byte(`{"value":12,"updatedAt":"2025-01-01T00:00:00Z"}`))
		}
	}))
	defer srv.Close()

	res := newRep(srv.URL, newFakeCache()).Score(context.Background(), "agent:praxis:b", "30d")
	require.Equal(t, model.TrustStatusOK, res.Status)
	assert.Equal(t, 12.0, *res.Score)
	assert.Equal(t, "2025-01-01T00:00:00Z", res.UpdatedAt)
	assert.Equal(t, []string{"/trust/agents/agent:praxis:b", "/agent/agent:praxis:b", "/score"}, paths)
}

func TestScore_NonSuccessIsNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cache := newFakeCache()
	res := newRep(srv.URL, cache).Score(context.Background(), "agent:praxis:c", "30d")
	assert.Equal(t, model.TrustStatusError, res.Status)
	assert.Equal(t, "status 503", res.Error)
	assert.Nil(t, res.Score)
	assert.Zero(t, cache.sets)
}

func TestScore_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cache := newFakeCache()
	rep := NewReputation(ReputationConfig{BaseURL: srv.URL, Enabled: true, Timeout: 50 * time.Millisecond}, cache, zerolog.Nop())
	res := rep.Score(context.Background(), "agent:praxis:d", "30d")
	assert.Equal(t, model.TrustStatusError, res.Status)
	assert.Equal(t, "timeout", res.Error)
	assert.Zero(t, cache.sets)
}

func TestScore_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newRep(url, newFakeCache()).Score(context.Background(), "agent:praxis:e", "30d")
	assert.Equal(t, model.TrustStatusError, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.NotEqual(t, "timeout", res.Error)
}

func TestScore_CacheReadFailureIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"score":0.5}`))
	}))
	defer srv.Close()

	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	res := newRep(srv.URL, cache).Score(context.Background(), "agent:praxis:f", "30d")
	assert.Equal(t, model.TrustStatusOK, res.Status)
	assert.Equal(t, 0.5, *res.Score)
}

func TestParseScoreBody_Lenient(t *testing.T) {
	b := parseScoreBody([]byte(`{"composite":"high","score":null,"value":3,"scores":null}`))
	require.NotNil(t, b.score())
	assert.Equal(t, 3.0, *b.score())
	assert.Nil(t, b.Scores)

	assert.Nil(t, parseScoreBody([]byte(`not json`)).score())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-01T00:00:00Z", scoreBody{}.updatedAt(now))
}

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store/storetest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, "memory", func(t *testing.T) storetest.Harness {
		clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
		s := New(WithClock(clock.Now))
		return storetest.Harness{
			Store:   s,
			Advance: clock.Advance,
			SeedAgent: func(a model.Agent) {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.agents[a.AgentID] = a
			},
		}
	})
}

func TestSessionExpiresAtBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Sessions().Create(ctx, "tok", model.Session{OperatorID: "operator:praxis:x"}, time.Minute))
	clock.Advance(time.Minute - time.Nanosecond)
	got, err := s.Sessions().Get(ctx, "tok")
	require.NoError(t, err)
	assert.NotNil(t, got)

	clock.Advance(time.Nanosecond)
	got, err = s.Sessions().Get(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, got, "session must be expired when now == expiresAt")
}

func TestTrustCacheValidAtBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.TrustCache().Set(ctx, "a", "30d", model.TrustResult{Status: model.TrustStatusOK}, time.Minute))
	clock.Advance(time.Minute)
	got, err := s.TrustCache().Get(ctx, "a", "30d")
	require.NoError(t, err)
	assert.NotNil(t, got, "cache entry is still valid when now == expiresAt")

	clock.Advance(time.Nanosecond)
	got, err = s.TrustCache().Get(ctx, "a", "30d")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReturnedAgentsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Agents().Upsert(ctx, model.AgentRegistration{AgentID: "a", OperatorID: "o", Skills: []string{"go"}})
	require.NoError(t, err)

	a, err := s.Agents().Get(ctx, "a")
	require.NoError(t, err)
	a.Skills[0] = "mutated"

	again, err := s.Agents().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, again.Skills)
}

func TestClaimRebuildsMissingRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.operatorEmail["lost@example.test"] = "operator:praxis:lost"

	op, created, err := s.Operators().Claim(ctx, "lost@example.test", "operator:praxis:new")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "operator:praxis:lost", op.OperatorID)
}

package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store"
	"github.com/andperez123/capnet/internal/store/storetest"
)

func newKVStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, "capnet-test:"), mr, rdb
}

func TestKVStore(t *testing.T) {
	storetest.Run(t, "kv", func(t *testing.T) storetest.Harness {
		s, mr, rdb := newKVStoreTest(t)
		var mu sync.Mutex
		now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		s.now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		return storetest.Harness{
			Store: s,
			Advance: func(d time.Duration) {
				mu.Lock()
				now = now.Add(d)
				mu.Unlock()
				mr.FastForward(d)
			},
			SeedAgent: func(a model.Agent) {
				seedAgent(t, rdb, s, a)
			},
		}
	})
}

func TestKeySchema(t *testing.T) {
	s, mr, _ := newKVStoreTest(t)
	ctx := context.Background()

	op, created, err := s.Operators().Claim(ctx, "k@example.test", "operator:praxis:k")
	require.NoError(t, err)
	require.True(t, created)
	_, err = s.Agents().Upsert(ctx, model.AgentRegistration{AgentID: "agent:praxis:k", OperatorID: op.OperatorID})
	require.NoError(t, err)
	require.NoError(t, s.Sessions().Create(ctx, "sess_k", model.Session{OperatorID: op.OperatorID}, 7*24*time.Hour))
	require.NoError(t, s.TrustCache().Set(ctx, "agent:praxis:k", "30d", model.TrustResult{Status: "ok"}, 90*time.Second))
	require.NoError(t, s.Activity().Append(ctx, "agent:praxis:k", model.Activity{ID: "1", Type: "note"}))
	require.NoError(t, s.JoinEvents().Add(ctx, model.JoinEvent{Email: "k@example.test"}))

	for _, k := range []string{
		"capnet-test:operator:operator:praxis:k",
		"capnet-test:operator:byemail:k@example.test",
		"capnet-test:operator:operator:praxis:k:agents",
		"capnet-test:agent:agent:praxis:k",
		"capnet-test:agents:all",
		"capnet-test:session:sess_k",
		"capnet-test:trustcache:agent:praxis:k:30d",
		"capnet-test:activity:agent:praxis:k",
		"capnet-test:joinevents",
	} {
		assert.True(t, mr.Exists(k), k)
	}
	assert.Equal(t, 7*24*time.Hour, mr.TTL("capnet-test:session:sess_k"))
	assert.Equal(t, 90*time.Second, mr.TTL("capnet-test:trustcache:agent:praxis:k:30d"))
	assert.Zero(t, mr.TTL("capnet-test:agent:agent:praxis:k"))
}

func TestMalformedRecordsAreAbsent(t *testing.T) {
	s, mr, _ := newKVStoreTest(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("capnet-test:agent:agent:praxis:bad", "{not json"))
	require.NoError(t, mr.Set("capnet-test:session:sess_bad", "garbage"))
	require.NoError(t, mr.Set("capnet-test:trustcache:a:30d", "[]x"))
	_, err := mr.SAdd("capnet-test:agents:all", "agent:praxis:bad")
	require.NoError(t, err)

	a, err := s.Agents().Get(ctx, "agent:praxis:bad")
	require.NoError(t, err)
	assert.Nil(t, a)

	sess, err := s.Sessions().Get(ctx, "sess_bad")
	require.NoError(t, err)
	assert.Nil(t, sess)

	tr, err := s.TrustCache().Get(ctx, "a", "30d")
	require.NoError(t, err)
	assert.Nil(t, tr)

	all, err := s.Agents().All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	// a malformed previous record does not block re-registration
	fresh, err := s.Agents().Upsert(ctx, model.AgentRegistration{AgentID: "agent:praxis:bad", OperatorID: "operator:praxis:o"})
	require.NoError(t, err)
	assert.Zero(t, fresh.Earnings)
}

func TestMalformedActivityBecomesNote(t *testing.T) {
	s, mr, _ := newKVStoreTest(t)
	ctx := context.Background()

	require.NoError(t, s.Activity().Append(ctx, "agent:praxis:a", model.Activity{ID: "ok", Type: "report", Message: "fine"}))
	_, err := mr.Lpush("capnet-test:activity:agent:praxis:a", "plain text entry")
	require.NoError(t, err)

	items, err := s.Activity().List(ctx, "agent:praxis:a", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "note", items[0].Type)
	assert.Equal(t, "plain text entry", items[0].Message)
	assert.NotEmpty(t, items[0].ID)
	assert.Equal(t, "report", items[1].Type)
}

func TestClaimRebuildsMissingRecord(t *testing.T) {
	s, mr, _ := newKVStoreTest(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("capnet-test:operator:byemail:lost@example.test", "operator:praxis:lost"))

	op, created, err := s.Operators().Claim(ctx, "lost@example.test", "operator:praxis:new")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "operator:praxis:lost", op.OperatorID)
	assert.True(t, mr.Exists("capnet-test:operator:operator:praxis:lost"))
}

func TestBackendErrorsPropagate(t *testing.T) {
	s, mr, _ := newKVStoreTest(t)
	mr.Close()
	ctx := context.Background()

	_, err := s.Agents().Get(ctx, "agent:praxis:x")
	assert.Error(t, err)
	assert.Error(t, s.HealthPing(ctx))
}

func TestOpenAppliesToken(t *testing.T) {
	rdb, err := Open("redis://:urlpass@localhost:6379/2", "tok")
	require.NoError(t, err)
	defer rdb.Close()
	assert.Equal(t, "tok", rdb.Options().Password)
	assert.Equal(t, 2, rdb.Options().DB)

	_, err = Open("://bad", "")
	assert.Error(t, err)
}

func TestStoreHealthCheckerTracksRedis(t *testing.T) {
	s, mr, _ := newKVStoreTest(t)
	ctx := context.Background()
	hc := store.NewStoreHealthChecker(store.NewFacade("kv", s, nil), zerolog.Nop(), 200*time.Millisecond)

	require.True(t, hc.Check(ctx))
	assert.Empty(t, hc.LastError())

	mr.Close()
	assert.False(t, hc.Check(ctx))
	assert.False(t, hc.IsHealthy())
	assert.NotEmpty(t, hc.LastError())
}

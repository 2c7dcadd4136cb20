package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andperez123/capnet/internal/identity"
	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store"
)

// Harness is a fresh, isolated backend plus the hooks the suite needs to
// drive it.
type Harness struct {
	Store store.Store
	// Advance moves the backend's notion of time forward. Expiry checks are
	// skipped when nil.
	Advance func(d time.Duration)
	// SeedAgent writes a record verbatim, bypassing Upsert.
	SeedAgent func(a model.Agent)
}

// Run exercises the compliance suite against a store.Store implementation
// through the Facade. newHarness is called once per subtest.
func Run(t *testing.T, kind string, newHarness func(t *testing.T) Harness) {
	t.Helper()

	setup := func(t *testing.T) (Harness, *store.Facade) {
		h := newHarness(t)
		return h, store.NewFacade(kind, h.Store, identity.New("praxis"))
	}
	ctx := context.Background()

	t.Run("OperatorIdempotentByEmail", func(t *testing.T) {
		_, f := setup(t)
		email := "op-" + uuid.NewString() + "@example.test"

		first, err := f.UpsertOperator(ctx, "  "+email+"  ")
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.True(t, identity.ValidateOperatorID(first.OperatorID))
		assert.Equal(t, email, first.Email)

		second, err := f.FindOrCreateOperator(ctx, email, "operator:praxis:other")
		require.NoError(t, err)
		assert.Equal(t, first.OperatorID, second.OperatorID)

		found, err := f.FindOperatorByEmail(ctx, email)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, first.OperatorID, found.OperatorID)

		missing, err := f.FindOperatorByEmail(ctx, "nobody@example.test")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("OperatorPreferredIDHeldByOtherEmail", func(t *testing.T) {
		h, f := setup(t)
		owner, err := f.UpsertOperator(ctx, "owner@example.test")
		require.NoError(t, err)

		_, _, err = h.Store.Operators().Claim(ctx, "intruder@example.test", owner.OperatorID)
		require.ErrorIs(t, err, store.ErrOperatorIDTaken)
		gone, err := f.FindOperatorByEmail(ctx, "intruder@example.test")
		require.NoError(t, err)
		assert.Nil(t, gone, "a refused claim must not leave the email bound")

		other, err := f.FindOrCreateOperator(ctx, "intruder@example.test", owner.OperatorID)
		require.NoError(t, err)
		assert.NotEqual(t, owner.OperatorID, other.OperatorID)
		assert.True(t, identity.ValidateOperatorID(other.OperatorID))
		assert.Equal(t, "intruder@example.test", other.Email)

		kept, err := f.FindOperatorByEmail(ctx, "owner@example.test")
		require.NoError(t, err)
		require.NotNil(t, kept)
		assert.Equal(t, owner.OperatorID, kept.OperatorID)
		assert.Equal(t, "owner@example.test", kept.Email)
		assert.True(t, kept.CreatedAt.Equal(owner.CreatedAt))
	})

	t.Run("OperatorEmailCaseInsensitive", func(t *testing.T) {
		_, f := setup(t)
		a, err := f.UpsertOperator(ctx, "Mixed@Example.Test")
		require.NoError(t, err)
		b, err := f.UpsertOperator(ctx, "mixed@example.test")
		require.NoError(t, err)
		assert.Equal(t, a.OperatorID, b.OperatorID)
		assert.Equal(t, "mixed@example.test", b.Email)
	})

	t.Run("OperatorRejectsInvalidEmail", func(t *testing.T) {
		_, f := setup(t)
		_, err := f.UpsertOperator(ctx, "not-an-email")
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("OperatorConcurrentFirstWrite", func(t *testing.T) {
		_, f := setup(t)
		const n = 16
		ids := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				op, err := f.UpsertOperator(ctx, "race@example.test")
				if err == nil {
					ids[i] = op.OperatorID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("AgentUpsertCarriesEarnings", func(t *testing.T) {
		h, f := setup(t)
		joined := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		h.SeedAgent(model.Agent{
			AgentID: "agent:praxis:earner", OperatorID: "operator:praxis:a",
			Earnings: 42.5, ActivationStatus: "active", JoinedAt: joined, CreatedAt: joined, UpdatedAt: joined,
		})

		a, err := f.UpsertAgent(ctx, model.AgentRegistration{
			AgentID: "agent:praxis:earner", OperatorID: "operator:praxis:a",
			Email: "A@Example.test", Skills: []string{"go", " go ", "", "rust"},
		})
		require.NoError(t, err)
		assert.Equal(t, 42.5, a.Earnings)
		assert.Equal(t, []string{"go", "rust"}, a.Skills)
		assert.Equal(t, model.DefaultActivationStatus, a.ActivationStatus)
		assert.Equal(t, "a@example.test", a.Email)
		assert.True(t, a.JoinedAt.Equal(joined))
		assert.True(t, a.UpdatedAt.After(joined))

		got, err := f.FindAgent(ctx, "agent:praxis:earner")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 42.5, got.Earnings)
	})

	t.Run("AgentUpsertNewStartsAtZero", func(t *testing.T) {
		_, f := setup(t)
		a, err := f.UpsertAgent(ctx, model.AgentRegistration{
			AgentID: "agent:praxis:fresh", OperatorID: "operator:praxis:a", ActivationStatus: "pending",
		})
		require.NoError(t, err)
		assert.Zero(t, a.Earnings)
		assert.Equal(t, "pending", a.ActivationStatus)
		assert.Empty(t, a.Skills)

		missing, err := f.FindAgent(ctx, "agent:praxis:nobody")
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, err = f.UpsertAgent(ctx, model.AgentRegistration{AgentID: "agent:praxis:x"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("Ownership", func(t *testing.T) {
		_, f := setup(t)
		const op1, op2 = "operator:praxis:one", "operator:praxis:two"
		for _, id := range []string{"agent:praxis:a1", "agent:praxis:a2"} {
			_, err := f.UpsertAgent(ctx, model.AgentRegistration{AgentID: id, OperatorID: op1})
			require.NoError(t, err)
		}

		ids, err := f.ListAgentIDsForOperator(ctx, op1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"agent:praxis:a1", "agent:praxis:a2"}, ids)

		ids, err = f.ListAgentIDsForOperator(ctx, op2)
		require.NoError(t, err)
		assert.Empty(t, ids)

		owned, err := f.IsOwnedBy(ctx, op1, "agent:praxis:a1")
		require.NoError(t, err)
		assert.True(t, owned)
		owned, err = f.IsOwnedBy(ctx, op2, "agent:praxis:a1")
		require.NoError(t, err)
		assert.False(t, owned)

		// re-registration under another operator adds membership without revoking the old one
		_, err = f.UpsertAgent(ctx, model.AgentRegistration{AgentID: "agent:praxis:a1", OperatorID: op2})
		require.NoError(t, err)
		for _, op := range []string{op1, op2} {
			owned, err = f.IsOwnedBy(ctx, op, "agent:praxis:a1")
			require.NoError(t, err)
			assert.True(t, owned, op)
		}
		a, err := f.FindAgent(ctx, "agent:praxis:a1")
		require.NoError(t, err)
		assert.Equal(t, op2, a.OperatorID)
	})

	t.Run("Leaderboard", func(t *testing.T) {
		h, f := setup(t)
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < store.LeaderboardSize+5; i++ {
			h.SeedAgent(model.Agent{
				AgentID:    fmt.Sprintf("agent:praxis:lb%02d", i),
				OperatorID: "operator:praxis:lb",
				Email:      "secret@example.test",
				Earnings:   float64(i),
				JoinedAt:   base.Add(time.Duration(i) * time.Hour),
			})
		}

		board, err := f.GetLeaderboard(ctx)
		require.NoError(t, err)
		require.Len(t, board, store.LeaderboardSize)
		assert.Equal(t, "agent:praxis:lb54", board[0].AgentID)
		assert.Equal(t, 54.0, board[0].Earnings)
		for i := 1; i < len(board); i++ {
			assert.GreaterOrEqual(t, board[i-1].Earnings, board[i].Earnings)
		}

		raw, err := json.Marshal(board)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "secret@example.test")
	})

	t.Run("LeaderboardEmpty", func(t *testing.T) {
		_, f := setup(t)
		board, err := f.GetLeaderboard(ctx)
		require.NoError(t, err)
		assert.Empty(t, board)
	})

	t.Run("SessionLifecycle", func(t *testing.T) {
		h, f := setup(t)
		created, err := f.CreateSession(ctx, "sess_abc", "operator:praxis:s", "S@Example.test")
		require.NoError(t, err)
		assert.Equal(t, "s@example.test", created.Email)

		got, err := f.GetSession(ctx, "sess_abc")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "operator:praxis:s", got.OperatorID)

		unknown, err := f.GetSession(ctx, "sess_unknown")
		require.NoError(t, err)
		assert.Nil(t, unknown)

		empty, err := f.GetSession(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, empty)

		if h.Advance == nil {
			return
		}
		h.Advance(7*24*time.Hour + time.Second)
		expired, err := f.GetSession(ctx, "sess_abc")
		require.NoError(t, err)
		assert.Nil(t, expired)
	})

	t.Run("ActivityNewestFirst", func(t *testing.T) {
		_, f := setup(t)
		const agent = "agent:praxis:act"
		for i := 1; i <= 3; i++ {
			_, err := f.AppendActivity(ctx, agent, model.Activity{
				Message: fmt.Sprintf("m%d", i),
				Extra:   map[string]any{"seq": float64(i)},
			})
			require.NoError(t, err)
		}

		items, err := f.ListActivity(ctx, agent, 2)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "m3", items[0].Message)
		assert.Equal(t, "m2", items[1].Message)
		assert.Equal(t, "note", items[0].Type)
		assert.Equal(t, "operator", items[0].Source)
		assert.NotEmpty(t, items[0].ID)
		assert.False(t, items[0].Timestamp.IsZero())
		assert.Equal(t, float64(3), items[0].Extra["seq"])

		all, err := f.ListActivity(ctx, agent, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := f.ListActivity(ctx, "agent:praxis:silent", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ActivityKeepsCallerFields", func(t *testing.T) {
		_, f := setup(t)
		ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		stored, err := f.AppendActivity(ctx, "agent:praxis:k", model.Activity{
			ID: "fixed", Type: "report", Source: "agent", Message: "done", Timestamp: ts,
		})
		require.NoError(t, err)
		assert.Equal(t, "fixed", stored.ID)

		items, err := f.ListActivity(ctx, "agent:praxis:k", 1)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "report", items[0].Type)
		assert.Equal(t, "agent", items[0].Source)
		assert.True(t, items[0].Timestamp.Equal(ts))
	})

	t.Run("JoinEvents", func(t *testing.T) {
		_, f := setup(t)
		for _, e := range []string{"a@example.test", "b@example.test", "a@example.test"} {
			_, err := f.AddJoinEvent(ctx, e)
			require.NoError(t, err)
		}
		n, err := f.JoinEventCount(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("TrustCacheExpiry", func(t *testing.T) {
		h, f := setup(t)
		score := 0.82
		require.NoError(t, f.SetTrustCache(ctx, "agent:praxis:t", "30d",
			model.TrustResult{Status: model.TrustStatusOK, Score: &score, UpdatedAt: "2025-01-01T00:00:00Z"}, 90*time.Second))

		got, err := f.GetTrustCache(ctx, "agent:praxis:t", "30d")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.Score)
		assert.Equal(t, 0.82, *got.Score)

		other, err := f.GetTrustCache(ctx, "agent:praxis:t", "7d")
		require.NoError(t, err)
		assert.Nil(t, other)

		if h.Advance == nil {
			return
		}
		h.Advance(91 * time.Second)
		expired, err := f.GetTrustCache(ctx, "agent:praxis:t", "30d")
		require.NoError(t, err)
		assert.Nil(t, expired)
	})

	t.Run("HealthPing", func(t *testing.T) {
		_, f := setup(t)
		assert.NoError(t, f.HealthPing(ctx))
		assert.Equal(t, kind, f.Kind())
	})
}

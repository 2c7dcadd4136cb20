package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthServer(code int, delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		w.WriteHeader(code)
	}))
}

func TestProbe(t *testing.T) {
	up := healthServer(http.StatusOK, 0)
	defer up.Close()
	down := healthServer(http.StatusBadGateway, 0)
	defer down.Close()
	slow := healthServer(http.StatusOK, 2*time.Second)
	defer slow.Close()

	p := NewProber(100 * time.Millisecond)
	ctx := context.Background()

	res := p.Probe(ctx, up.URL+"/")
	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)

	res = p.Probe(ctx, down.URL)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusBadGateway, res.Status)

	res = p.Probe(ctx, slow.URL)
	assert.False(t, res.OK)
	assert.Equal(t, "timeout", res.Error)
}

func TestCheck_AllOff(t *testing.T) {
	rep := NewProber(time.Second).Check(context.Background(), Targets{StoreKind: "memory"}, false)
	assert.True(t, rep.OK)
	assert.Equal(t, StateDegraded, rep.Services["capnet"].Status)
	assert.Equal(t, StateOff, rep.Services["trustgraph"].Status)
	assert.Equal(t, StateOff, rep.Services["wakenet"].Status)
	assert.Equal(t, StateStub, rep.Services["settlement"].Status)
	assert.Empty(t, rep.Services["capnet"].Details)
	assert.NotEmpty(t, rep.CheckedAt)
}

func TestCheck_TimeoutStates(t *testing.T) {
	slow := healthServer(http.StatusOK, 2*time.Second)
	defer slow.Close()
	up := healthServer(http.StatusOK, 0)
	defer up.Close()

	p := NewProber(100 * time.Millisecond)

	rep := p.Check(context.Background(), Targets{StoreKind: "kv", TrustGraphURL: up.URL, WakeNetURL: slow.URL}, true)
	assert.False(t, rep.OK)
	assert.Equal(t, StateOK, rep.Services["capnet"].Status)
	assert.Equal(t, "kv", rep.Services["capnet"].Details["store"])
	assert.Equal(t, StateOK, rep.Services["trustgraph"].Status)
	assert.Equal(t, up.URL, rep.Services["trustgraph"].Details["url"])
	assert.Equal(t, StateStale, rep.Services["wakenet"].Status)

	rep = p.Check(context.Background(), Targets{StoreKind: "kv", TrustGraphURL: slow.URL}, false)
	require.False(t, rep.OK)
	assert.Equal(t, StateError, rep.Services["trustgraph"].Status)
}

func TestProbeURL_Bearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProber(time.Second)
	assert.True(t, p.ProbeURL(context.Background(), srv.URL+"/score?agentId=a", "k").OK)
	res := p.ProbeURL(context.Background(), srv.URL+"/score", "")
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

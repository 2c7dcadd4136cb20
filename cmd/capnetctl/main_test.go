package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string, retries uint64) *client {
	c := newAPIClient(url, time.Second, retries)
	c.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestLeaderboard_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/leaderboard", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"leaderboard":[{"agentId":"agent:praxis:a","operatorId":"operator:praxis:o","earnings":12.5}]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, runLeaderboard(context.Background(), testClient(srv.URL, 3), false, &out))
	assert.EqualValues(t, 3, calls.Load())
	assert.Contains(t, out.String(), "agent:praxis:a")
	assert.Contains(t, out.String(), "12.50")
}

func TestLeaderboard_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error":"Not found"}`))
	}))
	defer srv.Close()

	err := runLeaderboard(context.Background(), testClient(srv.URL, 5), true, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
	assert.EqualValues(t, 1, calls.Load())
}

func TestStatus_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"checkedAt":"2026-01-01T00:00:00Z","services":{"wakenet":{"status":"stale","latencyMs":5000},"runtime":{"status":"off","latencyMs":null}}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runStatus(context.Background(), testClient(srv.URL, 0), &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "wakenet     stale     5000ms")
	assert.Contains(t, out.String(), "runtime     off       -")
}

func TestJoin_Payload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/join", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runJoin(context.Background(), testClient(srv.URL, 0), joinArgs{
		Email:   "a@b.co",
		AgentID: "bot",
		Skills:  "x,y",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"email": "a@b.co", "agentId": "bot", "skills": "x,y"}, got)
	assert.Contains(t, out.String(), `"ok":true`)
}

func TestJoin_RequiresEmail(t *testing.T) {
	assert.Error(t, runJoin(context.Background(), testClient("http://127.0.0.1:1", 0), joinArgs{}, &bytes.Buffer{}))
}

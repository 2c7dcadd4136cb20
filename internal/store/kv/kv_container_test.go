package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andperez123/capnet/internal/model"
	"github.com/andperez123/capnet/internal/store/storetest"
)

// TestKVStore_RedisContainer runs the compliance suite against a real Redis.
// Set CAPNET_DOCKER_TESTS=1 to enable.
func TestKVStore_RedisContainer(t *testing.T) {
	if os.Getenv("CAPNET_DOCKER_TESTS") != "1" {
		t.Skip("set CAPNET_DOCKER_TESTS=1 to run Redis container tests")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start redis container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	url := fmt.Sprintf("redis://%s:%s/0", host, port.Port())

	n := 0
	storetest.Run(t, "kv", func(t *testing.T) storetest.Harness {
		rdb, err := Open(url, "")
		require.NoError(t, err)
		t.Cleanup(func() { rdb.Close() })

		// each subtest gets its own key prefix on the shared server
		n++
		s := New(rdb, fmt.Sprintf("capnet-it-%d:", n))
		return storetest.Harness{
			Store: s,
			SeedAgent: func(a model.Agent) {
				seedAgent(t, rdb, s, a)
			},
		}
	})
}

func seedAgent(t *testing.T, rdb *redis.Client, s *Store, a model.Agent) {
	t.Helper()
	b, err := json.Marshal(a)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.agentKey(a.AgentID), b, 0)
		pipe.SAdd(ctx, s.operatorAgentsKey(a.OperatorID), a.AgentID)
		pipe.SAdd(ctx, s.agentsAllKey(), a.AgentID)
		return nil
	})
	require.NoError(t, err)
}

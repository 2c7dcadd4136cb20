package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/config"
	"github.com/andperez123/capnet/internal/identity"
	storepkg "github.com/andperez123/capnet/internal/store"
	"github.com/andperez123/capnet/internal/store/kv"
	"github.com/andperez123/capnet/internal/store/memory"
)

// Closer releases backend resources. The memory backend's is a no-op.
type Closer func() error

// NewStore selects the backend from cfg: the Redis-backed durable store when
// a KV URL is configured, otherwise the process-local memory store.
// The KV connection is checked asynchronously so startup is not blocked by
// a slow or unreachable server.
func NewStore(ctx context.Context, cfg *config.Config, ids *identity.Normalizer, log zerolog.Logger) (*storepkg.Facade, Closer, error) {
	switch cfg.StoreKind() {
	case "memory":
		log.Warn().Msg("KV_URL not set; using in-memory store, data is lost on restart")
		return storepkg.NewFacade("memory", memory.New(), ids), func() error { return nil }, nil
	case "kv":
	default:
		return nil, nil, fmt.Errorf("unknown store kind: %s", cfg.StoreKind())
	}

	rdb, err := kv.Open(cfg.KVURL, cfg.KVToken)
	if err != nil {
		return nil, nil, err
	}
	backend := kv.New(rdb, cfg.KVPrefix)

	go func() {
		pingTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
		if pingTimeout <= 0 {
			pingTimeout = 2 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := backend.HealthPing(pingCtx); err != nil {
			log.Warn().Err(err).Str("store", "kv").Msg("store connectivity check failed")
		} else {
			log.Debug().Str("store", "kv").Str("prefix", cfg.KVPrefix).Msg("store connectivity check completed")
		}
	}()

	return storepkg.NewFacade("kv", backend, ids), backend.Close, nil
}

package directoryservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/api"
	"github.com/andperez123/capnet/internal/config"
	"github.com/andperez123/capnet/internal/factory"
	"github.com/andperez123/capnet/internal/health"
	"github.com/andperez123/capnet/internal/identity"
	"github.com/andperez123/capnet/internal/logger"
	"github.com/andperez123/capnet/internal/status"
	"github.com/andperez123/capnet/internal/store"
	"github.com/andperez123/capnet/internal/trustgraph"
)

const shutdownTimeout = 10 * time.Second

// components are the long-lived collaborators built at startup.
type components struct {
	store      *store.Facade
	closeStore factory.Closer
	reputation *trustgraph.Reputation
	dispatcher *trustgraph.Dispatcher
	prober     *status.Prober
}

// Run starts the directory API server and blocks until shutdown or error.
func Run() error {
	log := logger.New(api.ServiceName)

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("store", cfg.StoreKind()).
		Int("http_port", cfg.HTTPPort).
		Bool("trustgraph", cfg.ReputationEnabled()).
		Bool("ledger", cfg.LedgerActive()).
		Msg("Directory service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	c, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.closeStore(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	svcHealth := startHealthCheckers(ctx, cfg, log, c)

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Store:      c.store,
		Reputation: c.reputation,
		Events:     c.dispatcher,
		Prober:     c.prober,
		Health:     svcHealth,
		Log:        log,
	})

	// Block startup until dependencies report healthy; fail fast otherwise
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		c.dispatcher.Close()
		return err
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		// In-flight requests are done; flush queued trust events.
		if err := c.dispatcher.Shutdown(ctxShutdown); err != nil {
			log.Warn().Err(err).Uint64("dropped", c.dispatcher.Dropped()).Msg("trust events not fully drained")
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		c.dispatcher.Close()
		return err
	}
}

// initDependencies builds the store and the TrustGraph clients.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*components, error) {
	ids := identity.New(cfg.IdentityNamespace)

	st, closeStore, err := factory.NewStore(ctx, cfg, ids, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}

	rep := trustgraph.NewReputation(trustgraph.ReputationConfig{
		BaseURL:  cfg.TrustGraphURL,
		APIKey:   cfg.TrustGraphAPIKey,
		Enabled:  cfg.ReputationEnabled(),
		Timeout:  cfg.ExternalTimeout(),
		CacheTTL: cfg.TrustCacheTTL(),
	}, st, log)

	emitter := trustgraph.NewEmitter(trustgraph.EmitterConfig{
		URL:           cfg.LedgerURL,
		APIKey:        cfg.LedgerAPIKey,
		WebhookSecret: cfg.WebhookSecret,
		Enabled:       cfg.LedgerActive(),
		Timeout:       cfg.ExternalTimeout(),
	})
	if !emitter.Configured() {
		log.Info().Msg("trust ledger not configured; events will be dropped as not_configured")
	}

	return &components{
		store:      st,
		closeStore: closeStore,
		reputation: rep,
		dispatcher: trustgraph.NewDispatcher(emitter, cfg.EventQueueSize, cfg.EventWorkers, log),
		prober:     status.NewProber(cfg.ExternalTimeout()),
	}, nil
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, c *components) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	storeChecker := store.NewStoreHealthChecker(c.store, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	go c.dispatcher.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker, c.dispatcher)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// verify runs two outbound probes back to back
		WriteTimeout: 2*cfg.ExternalTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.Evaluate() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

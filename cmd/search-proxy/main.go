// Command search-proxy serves marketplace search pages through the
// pagination engine, caching sequences and image search snapshots.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/client"
	"github.com/Sternrassler/marketplace-search/pkg/config"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/logging"
	"github.com/Sternrassler/marketplace-search/pkg/pagination"
	"github.com/Sternrassler/marketplace-search/pkg/ratelimit"
	"github.com/Sternrassler/marketplace-search/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.DefaultConfig())
		bootLogger := logging.NewLogger("search-proxy")
		bootLogger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logCfg := cfg.Logging()
	logCfg.Service = "search-proxy"
	logging.Setup(logCfg)
	logger := logging.NewLogger("search-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	redisClient, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var storage session.Storage
	if redisClient != nil {
		defer redisClient.Close()
		storage = session.NewRedisStorage(redisClient, cfg.SessionPrefix)
	} else {
		logger.Warn().Msg("SEARCH_REDIS_ADDR not set, image search snapshots are kept in memory")
		storage = session.NewMemoryStorage(cfg.SweepInterval)
	}

	searchClient, err := client.New(cfg.Client())
	if err != nil {
		return err
	}
	defer searchClient.Close()
	searchClient.SetTracker(ratelimit.NewTracker(redisClient, logging.NewLogger("rate-limit"),
		ratelimit.WithMaxWait(cfg.RateLimitMaxWait)))

	srv, err := newServer(searchClient, storage, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	srv.startSweepers(ctx, cfg.SweepInterval)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("backend", cfg.BaseURL).
			Str("user_agent", cfg.UserAgent).
			Msg("Starting search proxy")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down search proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// connectRedis returns a connected client, or nil when no address is configured.
func connectRedis(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	return redisClient, nil
}

// newEngine wires one endpoint's searcher through a retrying fetcher into
// an engine with its own cache store.
func newEngine(searcher fetcher.Searcher, cfg config.Config, component string) *pagination.Engine {
	logger := logging.NewLogger(component)
	store := cache.NewStore(append(cfg.StoreOptions(), cache.WithLogger(logger))...)
	pf := fetcher.New(searcher, fetcher.WithRetryConfig(cfg.Retry()), fetcher.WithLogger(logger))
	return pagination.NewEngine(store, pf, cfg.Pagination(), pagination.WithLogger(logger))
}

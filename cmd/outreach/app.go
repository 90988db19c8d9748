package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/outreach-engine/internal/allowance"
	"github.com/LeventeLantos/outreach-engine/internal/client"
	"github.com/LeventeLantos/outreach-engine/internal/config"
	"github.com/LeventeLantos/outreach-engine/internal/dispatch"
	"github.com/LeventeLantos/outreach-engine/internal/pacing"
	"github.com/LeventeLantos/outreach-engine/internal/reconcile"
	"github.com/LeventeLantos/outreach-engine/internal/store"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	store      *store.Store
	allowance  *allowance.Tracker
	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
	closeFns   []func()
}

func (a *app) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	backing, closeFn, err := openBacking(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closeFns = append(a.closeFns, closeFn)

	a.store = store.New(backing, store.WithLogger(logger))
	a.allowance = allowance.New(a.store, cfg.Outreach.Profile.Caps)

	pacer, err := pacing.New(cfg.Outreach.Profile.Pacing)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("pacing profile %s: %w", cfg.Outreach.Profile.Name, err)
	}

	provider := client.NewProviderClient(client.ProviderConfig{
		BaseURL:           cfg.Provider.URL,
		APIKey:            cfg.Provider.APIKey,
		AccountID:         cfg.Provider.AccountID,
		RequestsPerSecond: float64(cfg.Provider.RequestsPerSecond),
	})
	tracker := client.NewTrackerClient(cfg.Tracker.URL, cfg.Tracker.APIKey)

	a.dispatcher = dispatch.New(a.store, provider, tracker, a.allowance, pacer, dispatch.WithLogger(logger))
	a.reconciler = reconcile.New(a.store, tracker,
		reconcile.WithLiveStatus(provider),
		reconcile.WithLogger(logger),
	)
	return a, nil
}

// openBacking connects the configured state backing. The returned func
// releases any connection it opened.
func openBacking(ctx context.Context, cfg *config.Config) (store.Backing, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemoryBacking(), func() {}, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedisBacking(rdb, cfg.Store.Key), func() { _ = rdb.Close() }, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		b := store.NewPostgresBacking(pool, cfg.Store.Key)
		if err := b.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return b, pool.Close, nil

	case config.BackendFile:
		return store.NewFileBacking(cfg.Store.Path), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

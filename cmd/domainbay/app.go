package main

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/totegamma/domainbay/internal/config"
	"github.com/totegamma/domainbay/internal/diagnostics"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/infra/providers"
	"github.com/totegamma/domainbay/internal/messaging"
	"github.com/totegamma/domainbay/internal/usecase"
)

type app struct {
	runtime   domain.Runtime
	market    *usecase.MarketUsecase
	watchlist *usecase.WatchlistUsecase
	sync      *messaging.Synchronizer
	recorder  *diagnostics.Recorder
	redis     *redis.Client

	closers []func() error
}

func (a *app) Close() {
	if a.sync != nil {
		a.sync.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", slog.String("error", err.Error()), slog.String("module", "main"))
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		runtime: cfg.Runtime(version),
	}

	db, err := providers.NewDatabase(cfg.Server)
	if err != nil {
		return nil, err
	}
	if db != nil {
		sqlDB, err := db.DB()
		if err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
	}

	rdb, err := providers.NewRedis(ctx, cfg.Server)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rdb != nil {
		a.redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	mc := providers.NewMemcache(cfg.Server)
	if mc != nil {
		a.closers = append(a.closers, mc.Close)
	}

	cl := providers.NewClient(cfg.API)
	domainGateway := providers.NewDomainGateway(cl, cfg.API)
	aggregator := providers.NewAggregator(domainGateway, providers.NewRecordCache(mc, db, cfg.Cache), cfg.Cache)

	a.market = usecase.NewMarketUsecase(domainGateway, aggregator, usecase.MarketOptions{
		StaleAfter: cfg.Cache.StaleAfter,
	})

	store, err := providers.NewWatchlistStore(cl, db, cfg.API)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.watchlist = usecase.NewWatchlistUsecase(store, a.market)

	messagingGateway, err := providers.NewMessagingGateway(cl, cfg.API)
	if err != nil {
		a.Close()
		return nil, err
	}
	source, err := providers.NewEventSource(cfg.API, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sync = messaging.NewSynchronizer(messagingGateway, source, messaging.Options{
		TypingTimeout: cfg.Cache.TypingTimeout,
	})

	a.recorder = diagnostics.NewRecorder(nil)

	slog.InfoContext(
		ctx, "components ready",
		slog.String("environment", string(a.runtime.Environment)),
		slog.Bool("postgres", db != nil),
		slog.Bool("redis", rdb != nil),
		slog.Bool("memcached", mc != nil),
		slog.String("module", "main"),
	)
	return a, nil
}

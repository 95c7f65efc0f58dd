package providers

import (
	"context"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/totegamma/domainbay/client"
	"github.com/totegamma/domainbay/internal/config"
	"github.com/totegamma/domainbay/internal/infra/database"
	"github.com/totegamma/domainbay/internal/infra/gateway"
	"github.com/totegamma/domainbay/internal/infra/realtime"
	"github.com/totegamma/domainbay/internal/infra/repository"
	"github.com/totegamma/domainbay/internal/messaging"
	"github.com/totegamma/domainbay/internal/usecase"
	"github.com/totegamma/domainbay/internal/watchlist"
)

const slowQueryThreshold = 300 * time.Millisecond

// NewDatabase opens and migrates Postgres. It returns nil without a DSN.
func NewDatabase(conf config.Server) (*gorm.DB, error) {
	if conf.PostgresDsn == "" {
		return nil, nil
	}
	db, err := database.NewPostgres(conf.PostgresDsn, slowQueryThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := database.MigratePostgres(db); err != nil {
		return nil, errors.Wrap(err, "migrate postgres")
	}
	return db, nil
}

// NewRedis returns nil when no address is configured.
func NewRedis(ctx context.Context, conf config.Server) (*redis.Client, error) {
	if conf.RedisAddr == "" {
		return nil, nil
	}
	rdb := database.NewRedis(conf.RedisAddr, conf.RedisPassword, conf.RedisDB)
	if err := database.PingRedis(ctx, rdb); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}

// NewMemcache creates a memcache client, or nil when no address is configured.
func NewMemcache(conf config.Server) *memcache.Client {
	if conf.MemcachedAddr == "" {
		return nil
	}
	return database.NewMemcached(time.Second, strings.Split(conf.MemcachedAddr, ",")...)
}

// NewClient constructs the HTTP client shared by every gateway.
func NewClient(conf config.API) *client.Client {
	return client.New(
		client.WithTimeout(conf.Timeout),
		client.WithUserAgent(conf.UserAgent),
	)
}

func NewDomainGateway(cl *client.Client, conf config.API) *gateway.DomainGateway {
	return gateway.NewDomainGateway(cl, conf.GraphQLEndpoint, gateway.WithTimeout(conf.Timeout))
}

func NewMessagingGateway(cl *client.Client, conf config.API) (*gateway.MessagingGateway, error) {
	if conf.MessagingEndpoint == "" {
		return nil, errors.New("api.messagingEndpoint is not configured")
	}
	return gateway.NewMessagingGateway(cl, conf.MessagingEndpoint), nil
}

// NewRecordCache prefers memcache and falls back to Postgres. Nil means the
// aggregator runs without a fallback.
func NewRecordCache(mc *memcache.Client, db *gorm.DB, conf config.Cache) watchlist.RecordCache {
	switch {
	case mc != nil:
		return repository.NewMemcacheRecordCache(mc, int32(conf.RecordTTL/time.Second))
	case db != nil:
		return repository.NewSQLRecordCache(db)
	default:
		return nil
	}
}

func NewAggregator(lookup watchlist.Lookup, fallback watchlist.RecordCache, conf config.Cache) *watchlist.Aggregator {
	return watchlist.NewAggregator(lookup, watchlist.Options{
		LookupTimeout: conf.LookupTimeout,
		Fallback:      fallback,
	})
}

// NewWatchlistStore uses the hosted sheet when an endpoint is configured and
// the local database otherwise.
func NewWatchlistStore(cl *client.Client, db *gorm.DB, conf config.API) (usecase.WatchlistStore, error) {
	switch {
	case conf.WatchlistEndpoint != "":
		return repository.NewSheetWatchlistStore(cl, conf.WatchlistEndpoint), nil
	case db != nil:
		return repository.NewSQLWatchlistStore(db), nil
	default:
		return nil, errors.New("no watchlist store: set api.watchlistEndpoint or server.postgresDsn")
	}
}

// NewEventSource streams messaging events over a websocket when a realtime
// URL is configured, and over redis pub/sub otherwise.
func NewEventSource(conf config.API, rdb *redis.Client) (messaging.EventSource, error) {
	switch {
	case conf.RealtimeURL != "":
		return realtime.NewWebSocketSource(conf.RealtimeURL), nil
	case rdb != nil:
		return realtime.NewRedisSource(rdb), nil
	default:
		return nil, errors.New("no event source: set api.realtimeURL or server.redisAddr")
	}
}

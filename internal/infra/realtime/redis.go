package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/messaging"
)

type RedisSource struct {
	rdb *redis.Client
}

func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{
		rdb: rdb,
	}
}

var _ messaging.EventSource = (*RedisSource)(nil)

func (s *RedisSource) Subscribe(ctx context.Context, identity string, h messaging.Handlers) (messaging.Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, Channel(identity))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, domain.NetworkError{Op: "redis subscribe", Err: err}
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() { sub.Close() })
	go func() {
		defer stop()
		sub.run(ctx, pubsub.Channel(), h)
	}()

	slog.DebugContext(
		ctx, "subscribed to messaging channel",
		slog.String("channel", Channel(identity)),
		slog.String("module", "realtime"),
	)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func (s *redisSubscription) run(ctx context.Context, ch <-chan *redis.Message, h messaging.Handlers) {
	defer close(s.done)
	for msg := range ch {
		if s.closed.Load() {
			return
		}
		if err := Dispatch(h, []byte(msg.Payload)); err != nil {
			slog.WarnContext(
				ctx, "dropping malformed event",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
				slog.String("module", "realtime"),
			)
		}
	}
	if !s.closed.Load() && h.OnError != nil {
		h.OnError(errors.New("redis subscription closed"))
	}
}

// Close stops delivery. No handler runs after it returns.
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

// Publisher emits messaging events to the channel a RedisSource listens on.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{
		rdb: rdb,
	}
}

func (p *Publisher) Publish(ctx context.Context, identity, eventType string, payload any) error {
	jsonstr, err := Encode(eventType, payload)
	if err != nil {
		return err
	}

	err = p.rdb.Publish(ctx, Channel(identity), jsonstr).Err()
	if err != nil {
		return errors.Wrap(err, "publish")
	}

	return nil
}

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assetlibrary/internal/domain"
)

const DefaultChannel = "assetlibrary:events"

// RedisRelay mirrors local bus events onto a Redis channel and republishes
// events from other sessions locally. Each relay stamps forwarded events with
// its own origin id and ignores them when they come back.
type RedisRelay struct {
	rdb     *goredis.Client
	channel string
	origin  string
	bus     *Bus
	log     *zap.Logger
	ready   chan struct{}
}

func NewRedisRelay(rdb *goredis.Client, channel string, bus *Bus, log *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		bus:     bus,
		log:     log.Named("redis-relay"),
		ready:   make(chan struct{}),
	}
}

// Origin identifies this relay in forwarded events.
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Ready is closed once the Redis subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run relays until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	local, cancel := r.bus.Subscribe(256)
	defer cancel()
	close(r.ready)

	remote := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-local:
			if !ok {
				return nil
			}
			// Events that arrived from Redis carry an origin and are not sent back.
			if ev.Origin != "" {
				continue
			}
			ev.Origin = r.origin
			raw, err := json.Marshal(ev)
			if err != nil {
				r.log.Warn("failed to encode event", zap.Error(err))
				continue
			}
			if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
				r.log.Warn("failed to publish event to redis", zap.Error(err))
			}
		case m, ok := <-remote:
			if !ok || m == nil {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				r.log.Warn("bad redis event payload", zap.Error(err))
				continue
			}
			if ev.Origin == r.origin || ev.Origin == "" {
				continue
			}
			r.bus.Publish(ev)
		}
	}
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
)

const redisWatchInterval = 250 * time.Millisecond

// Redis is the shared-server backend, used when the control plane runs as
// a separate process (the usual production layout on the device).
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

// OpenRedis connects and pings; an unreachable server is a startup error
// rather than a latent one.
func OpenRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("channel").With().Str("backend", "redis").Logger()
	logger.Info().
		Str("event", "channel.connected").
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis request channel")

	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordChannelOp("redis", "get", "miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordChannelOp("redis", "get", "failure")
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	metrics.RecordChannelOp("redis", "get", "success")
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.SetTTL(ctx, key, value, 0)
}

func (r *Redis) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.RecordChannelOp("redis", "set", "failure")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	metrics.RecordChannelOp("redis", "set", "success")
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		metrics.RecordChannelOp("redis", "delete", "failure")
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	metrics.RecordChannelOp("redis", "delete", "success")
	return nil
}

// Watch polls the key and signals when its payload changes. Keyspace
// notifications would be cheaper but need server-side config the device
// image does not guarantee.
func (r *Redis) Watch(ctx context.Context, key string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		var last string
		if v, err := r.client.Get(ctx, key).Result(); err == nil {
			last = v
		}
		ticker := time.NewTicker(redisWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				v, err := r.client.Get(ctx, key).Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					continue
				}
				if v != last {
					last = v
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
	return ch
}

func (r *Redis) Close() error {
	return r.client.Close()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisOptions configure the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis implements Store on top of Redis lists and plain string keys.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Redis{
		client: client,
		prefix: opts.Prefix,
		logger: logger.With().Str("component", "redis_cache").Logger(),
	}, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) History(ctx context.Context, key string) ([]Observation, error) {
	items, err := r.client.LRange(ctx, r.prefix+key, 0, MaxHistory-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	out := make([]Observation, 0, len(items))
	for _, item := range items {
		obs, err := decodeObservation(item)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

func (r *Redis) Push(ctx context.Context, key string, obs Observation) error {
	payload, err := encodeObservation(obs)
	if err != nil {
		return err
	}
	full := r.prefix + key
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, full, payload)
		pipe.LTrim(ctx, full, 0, MaxHistory-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	r.logger.Debug().Str("key", key).Float64("rate", obs.Rate).Bool("grew", obs.Grew).Msg("observation pushed")
	return nil
}

func (r *Redis) Scalar(ctx context.Context, key string) (float64, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) SetScalar(ctx context.Context, key string, value float64, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

var _ Store = (*Redis)(nil)

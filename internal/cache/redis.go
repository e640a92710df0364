package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisTTL    = 30 * 24 * time.Hour
	defaultRedisPrefix = "pds-matcher:embedding:"
	pingTimeout        = 2 * time.Second
)

// RedisOptions configures the shared Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Redis is a Store shared between processes. When the server is unreachable it degrades to
// a permanent miss and write no-op, logging the outage once.
type Redis struct {
	client redisAPI
	closer func() error
	ttl    time.Duration
	prefix string
	logger *zap.Logger

	warnedUnavailable atomic.Bool
}

// NewRedis connects to Redis and pings it. An unreachable server yields a bypassing store, not an error.
func NewRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}

	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, bypassing embedding cache", zap.String("addr", addr), zap.Error(err))
		_ = client.Close()
		return newRedis(nil, opts, logger)
	}

	r := newRedis(client, opts, logger)
	r.closer = client.Close
	return r
}

func newRedis(client redisAPI, opts RedisOptions, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix, logger: logger}
}

// Available reports whether the store talks to a server.
func (r *Redis) Available() bool {
	return r != nil && r.client != nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]float32, bool, error) {
	if !r.Available() {
		return nil, false, nil
	}

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		r.warnUnavailableOnce(err)
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	vec, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, vec []float32) error {
	if !r.Available() {
		return nil
	}

	data, err := Encode(vec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.warnUnavailableOnce(err)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer()
}

func (r *Redis) warnUnavailableOnce(err error) {
	if r.warnedUnavailable.CompareAndSwap(false, true) {
		r.logger.Warn("redis request failed, embedding cache degraded", zap.Error(err))
	}
}

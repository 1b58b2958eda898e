// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisKeyPrefix = "loopcast:probe:"
	redisOpTimeout = 2 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a Store shared between daemon instances.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
	stats  counters
}

// NewRedis connects and pings the server; an unreachable server is an error
// at construction rather than a silent miss on every Get.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis probe cache")

	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Name() string { return BackendRedis }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.stats.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.stats.errors.Add(1)
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	r.stats.hits.Add(1)
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		r.stats.errors.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}
	r.stats.sets.Add(1)
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		r.stats.errors.Add(1)
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Stats() Stats { return r.stats.snapshot() }

func (r *Redis) Close() error { return r.client.Close() }

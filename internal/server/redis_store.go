package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStoreConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// redisCommands is the subset of the go-redis client the store issues.
type redisCommands interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisTokenStore counts requests in Redis so rate limits hold across
// replicas that share the same instance.
type RedisTokenStore struct {
	client    redisCommands
	keyPrefix string
	timeout   time.Duration
}

func NewRedisTokenStore(cfg RedisStoreConfig) (*RedisTokenStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "assetvault:ratelimit:"
	}
	return &RedisTokenStore{client: client, keyPrefix: prefix, timeout: timeout}, nil
}

func (s *RedisTokenStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if s == nil || s.client == nil {
		return true, 0, nil
	}
	if limit <= 0 {
		return true, 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fullKey := s.keyPrefix + key
	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("increment rate counter: %w", err)
	}
	// First hit in the window owns setting the expiry; later hits inherit it.
	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, 0, fmt.Errorf("set rate counter expiry: %w", err)
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, fullKey).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}

func (s *RedisTokenStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis client is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisTokenStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Package cache stores rendered API responses in Redis.
package cache

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"chargewatch/internal/config"
	"chargewatch/internal/model"
)

var ErrMiss = errors.New("cache miss")

// Provider is the response cache used by the read API.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteNamespace(ctx context.Context, namespace string) (int, error)
}

// Key builds "namespace:path:k1=v1:k2=v2" with query pairs sorted, so that
// parameter order does not split the cache.
func Key(namespace, path string, query url.Values) string {
	parts := []string{namespace, path}
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range query {
		for _, v := range vs {
			pairs = append(pairs, pair{k, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	for _, p := range pairs {
		parts = append(parts, p.k+"="+p.v)
	}
	return strings.Join(parts, ":")
}

type RedisProvider struct {
	client *redis.Client
	prefix string
}

func NewRedisProvider(cfg config.CacheConfig) *RedisProvider {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisProviderWithClient(client, cfg.Prefix)
}

func NewRedisProviderWithClient(client *redis.Client, prefix string) *RedisProvider {
	return &RedisProvider{client: client, prefix: prefix}
}

func (p *RedisProvider) key(k string) string {
	if p.prefix == "" {
		return k
	}
	return p.prefix + ":" + k
}

func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return model.NewExternalServiceError("redis", "ping", err)
	}
	return nil
}

func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := p.client.Get(ctx, p.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, model.NewExternalServiceError("redis", "get", err)
	}
	return val, nil
}

func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := p.client.Set(ctx, p.key(key), value, ttl).Err(); err != nil {
		return model.NewExternalServiceError("redis", "set", err)
	}
	return nil
}

// DeleteNamespace removes every key of a namespace and returns how many
// were deleted.
func (p *RedisProvider) DeleteNamespace(ctx context.Context, namespace string) (int, error) {
	pattern := p.key(namespace) + ":*"
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := p.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, model.NewExternalServiceError("redis", "scan", err)
		}
		if len(keys) > 0 {
			n, err := p.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, model.NewExternalServiceError("redis", "del", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) DeleteNamespace(context.Context, string) (int, error) { return 0, nil }

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jogardn/agrimarket/pkg/models"
)

// SuggestCache memoises autosuggest results by lower-cased prefix.
type SuggestCache interface {
	Get(ctx context.Context, prefix string) ([]models.Suggestion, bool, error)
	Set(ctx context.Context, prefix string, suggestions []models.Suggestion) error
	Invalidate(ctx context.Context) error
}

type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]models.Suggestion, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, string, []models.Suggestion) error        { return nil }
func (NoopCache) Invalidate(context.Context) error                              { return nil }

const (
	keyPrefix     = "agrimarket:suggest:"
	generationKey = keyPrefix + "gen"
)

// RedisCache namespaces entries under a generation counter. Invalidate bumps
// the counter so stale entries are never read again and expire on their TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, prefix string) ([]models.Suggestion, bool, error) {
	key, err := c.key(ctx, prefix)
	if err != nil {
		return nil, false, err
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []models.Suggestion
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, prefix string, suggestions []models.Suggestion) error {
	key, err := c.key(ctx, prefix)
	if err != nil {
		return err
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

func (c *RedisCache) key(ctx context.Context, prefix string) (string, error) {
	gen, err := c.client.Get(ctx, generationKey).Result()
	if errors.Is(err, redis.Nil) {
		gen = "0"
	} else if err != nil {
		return "", err
	}
	return keyPrefix + gen + ":" + strings.ToLower(prefix), nil
}

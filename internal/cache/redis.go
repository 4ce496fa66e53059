package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"esg_news/internal/article"
	"esg_news/internal/model"
)

const redisPrefix = "esgnews:"

// RedisStore is a Store backed by Redis, for deployments running more than
// one engine instance. Entries carry a Redis TTL matching their expiry.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// NewRedisStoreWithURL creates a RedisStore from a redis:// URL.
func NewRedisStoreWithURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(tier model.Tier, key string) string {
	return redisPrefix + string(tier) + ":" + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, tier model.Tier, key string) (model.CacheEntry, bool, error) {
	if err := checkTier(tier); err != nil {
		return model.CacheEntry{}, false, err
	}
	k := redisKey(tier, key)
	data, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("redis get %s: %w", k, err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("decode %s: %w", k, err)
	}
	if !entry.Fresh(s.now()) {
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return model.CacheEntry{}, false, fmt.Errorf("redis del %s: %w", k, err)
		}
		return model.CacheEntry{}, false, nil
	}
	article.RenormalizeResult(&entry.Result)
	return entry, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, entry model.CacheEntry) error {
	if err := checkTier(entry.Tier); err != nil {
		return err
	}
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	k := redisKey(entry.Tier, entry.Result.SubjectKey)
	if err := s.client.Set(ctx, k, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, redisKey(model.TierScheduler, key), redisKey(model.TierOnDemand, key)).Err()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Info implements Store.
func (s *RedisStore) Info(ctx context.Context) (model.CacheInfo, error) {
	var info model.CacheInfo
	for _, tier := range []model.Tier{model.TierScheduler, model.TierOnDemand} {
		count := 0
		iter := s.client.Scan(ctx, 0, redisPrefix+string(tier)+":*", 100).Iterator()
		for iter.Next(ctx) {
			n, err := s.client.StrLen(ctx, iter.Val()).Result()
			if err != nil {
				return model.CacheInfo{}, fmt.Errorf("redis strlen %s: %w", iter.Val(), err)
			}
			count++
			info.ApproxMemory += n
		}
		if err := iter.Err(); err != nil {
			return model.CacheInfo{}, fmt.Errorf("redis scan %s: %w", tier, err)
		}
		if tier == model.TierScheduler {
			info.Tier1Count = count
		} else {
			info.Tier2Count = count
		}
	}
	return info, nil
}

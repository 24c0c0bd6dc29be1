package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"offer-market/internal/domain"

	"github.com/go-redis/redis/v8"
)

// RedisRankingCache keeps the latest ranking snapshot under a single key.
type RedisRankingCache struct {
	client *redis.Client
	key    string
}

func NewRedisRankingCache(client *redis.Client, key string) *RedisRankingCache {
	return &RedisRankingCache{
		client: client,
		key:    key,
	}
}

func (r *RedisRankingCache) StoreRanking(ctx context.Context, offers []*domain.RankedOffer) error {
	data, err := json.Marshal(offers)
	if err != nil {
		return fmt.Errorf("failed to encode ranking: %w", err)
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}

// LoadRanking returns an empty ranking when no snapshot has been stored yet.
func (r *RedisRankingCache) LoadRanking(ctx context.Context) ([]*domain.RankedOffer, error) {
	result, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return []*domain.RankedOffer{}, nil
		}
		return nil, err
	}

	offers := make([]*domain.RankedOffer, 0)
	if err := json.Unmarshal(result, &offers); err != nil {
		return nil, fmt.Errorf("failed to decode ranking: %w", err)
	}
	return offers, nil
}

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"qval-engine/internal/domain"
)

const scoreTTL = 26 * time.Hour

// ScoreCache keeps the latest Q-VAL snapshot per entity so the read path
// does not touch Postgres between pipeline runs.
type ScoreCache struct {
	get func(ctx context.Context, key string) (string, error)
	set func(ctx context.Context, key, val string, ttl time.Duration) error
}

func NewScoreCache(client *redis.Client) *ScoreCache {
	return &ScoreCache{
		get: func(ctx context.Context, key string) (string, error) {
			return client.Get(ctx, key).Result()
		},
		set: func(ctx context.Context, key, val string, ttl time.Duration) error {
			return client.Set(ctx, key, val, ttl).Err()
		},
	}
}

func scoreKey(entity string) string { return "qval:score:latest:" + entity }

func (c *ScoreCache) SetLatest(ctx context.Context, entity string, snap domain.ScoreSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.set(ctx, scoreKey(entity), string(payload), scoreTTL)
}

// Latest returns the cached snapshot, or found=false on a miss.
func (c *ScoreCache) Latest(ctx context.Context, entity string) (domain.ScoreSnapshot, bool, error) {
	raw, err := c.get(ctx, scoreKey(entity))
	if err == redis.Nil {
		return domain.ScoreSnapshot{}, false, nil
	}
	if err != nil {
		return domain.ScoreSnapshot{}, false, err
	}
	var snap domain.ScoreSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return domain.ScoreSnapshot{}, false, err
	}
	return snap, true, nil
}

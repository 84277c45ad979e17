package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"qval-engine/internal/domain"
)

func memoryScoreCache() (*ScoreCache, map[string]string) {
	store := make(map[string]string)
	return &ScoreCache{
		get: func(_ context.Context, key string) (string, error) {
			v, ok := store[key]
			if !ok {
				return "", redis.Nil
			}
			return v, nil
		},
		set: func(_ context.Context, key, val string, _ time.Duration) error {
			store[key] = val
			return nil
		},
	}, store
}

func TestScoreCacheRoundTrip(t *testing.T) {
	c, _ := memoryScoreCache()
	snap := domain.ScoreSnapshot{
		Date:           time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Composite:      1.2,
		Scaled:         62,
		Recommendation: domain.RecommendationBuy,
	}
	if err := c.SetLatest(context.Background(), "ACME", snap); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, found, err := c.Latest(context.Background(), "ACME")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Scaled != 62 || got.Recommendation != domain.RecommendationBuy {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if !got.Date.Equal(snap.Date) {
		t.Fatalf("date: got %v want %v", got.Date, snap.Date)
	}
}

func TestScoreCacheMiss(t *testing.T) {
	c, _ := memoryScoreCache()
	_, found, err := c.Latest(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected a cache miss")
	}
}

func TestScoreCacheKeysPerEntity(t *testing.T) {
	c, store := memoryScoreCache()
	_ = c.SetLatest(context.Background(), "A", domain.ScoreSnapshot{Scaled: 55})
	_ = c.SetLatest(context.Background(), "B", domain.ScoreSnapshot{Scaled: 45})
	if len(store) != 2 {
		t.Fatalf("expected two keys, got %d", len(store))
	}
	if _, ok := store["qval:score:latest:A"]; !ok {
		t.Fatal("entity key missing")
	}
}

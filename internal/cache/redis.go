package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/corkboard/server/internal/domain/similarity"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "corkboard:similar:"

// NewClient parses url (redis://...) and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// SimilarityCache stores similarity results in one hash per user so that a
// single DEL invalidates every cached (limit, threshold) variant.
type SimilarityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSimilarityCache(client *redis.Client, ttl time.Duration) *SimilarityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SimilarityCache{client: client, ttl: ttl}
}

func userKey(userID string) string {
	return keyPrefix + userID
}

func field(limit int, threshold float64) string {
	return strconv.Itoa(limit) + ":" + strconv.FormatFloat(threshold, 'f', 4, 64)
}

// Get returns a cached result; ok is false on a miss.
func (c *SimilarityCache) Get(ctx context.Context, userID string, limit int, threshold float64) (*similarity.Result, bool, error) {
	data, err := c.client.HGet(ctx, userKey(userID), field(limit, threshold)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached similarity: %w", err)
	}
	var res similarity.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("decode cached similarity: %w", err)
	}
	return &res, true, nil
}

func (c *SimilarityCache) Set(ctx context.Context, userID string, limit int, threshold float64, res *similarity.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode similarity: %w", err)
	}
	key := userKey(userID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, field(limit, threshold), data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache similarity: %w", err)
	}
	return nil
}

// InvalidateUser drops every cached result for userID.
func (c *SimilarityCache) InvalidateUser(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate similarity cache: %w", err)
	}
	return nil
}

func (c *SimilarityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

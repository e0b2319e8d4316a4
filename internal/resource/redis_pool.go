package resource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPool keeps resource scores in a sorted set per class so every
// instance rotates the same pool. Resource details live in one hash.
type RedisPool struct {
	client *redis.Client
	prefix string
}

// NewRedisPool creates a shared pool.
func NewRedisPool(client *redis.Client, prefix string) *RedisPool {
	if prefix == "" {
		prefix = "sentinel:pool"
	}
	return &RedisPool{client: client, prefix: prefix}
}

func (p *RedisPool) scoresKey(class string) string { return fmt.Sprintf("%s:%s", p.prefix, class) }
func (p *RedisPool) detailsKey() string            { return p.prefix + ":resources" }

// Seed registers resources for class. Existing scores are kept.
func (p *RedisPool) Seed(ctx context.Context, class string, resources []Resource) error {
	pipe := p.client.TxPipeline()
	for _, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, p.detailsKey(), r.ID, raw)
		pipe.ZAddNX(ctx, p.scoresKey(class), redis.Z{Score: r.Score, Member: r.ID})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Current returns the highest scored resource for class.
func (p *RedisPool) Current(ctx context.Context, class string) (Resource, error) {
	top, err := p.client.ZRevRangeWithScores(ctx, p.scoresKey(class), 0, 0).Result()
	if err != nil {
		return Resource{}, err
	}
	if len(top) == 0 {
		return Resource{}, ErrPoolEmpty
	}
	id, _ := top[0].Member.(string)
	raw, err := p.client.HGet(ctx, p.detailsKey(), id).Result()
	if err != nil {
		return Resource{}, fmt.Errorf("resource %s: %w", id, err)
	}
	var r Resource
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Resource{}, err
	}
	r.Score = top[0].Score
	return r, nil
}

// Rotate demotes the current resource for class.
func (p *RedisPool) Rotate(ctx context.Context, class string) error {
	top, err := p.client.ZRevRange(ctx, p.scoresKey(class), 0, 0).Result()
	if err != nil {
		return err
	}
	if len(top) == 0 {
		return ErrPoolEmpty
	}
	return p.client.ZIncrBy(ctx, p.scoresKey(class), -rotationPenalty, top[0]).Err()
}

package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter spaces permits for a class across every process sharing the
// Redis instance. Each permit claims a slot key that lives for one interval.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	rates  map[string]float64
	def    float64
}

// NewRedisLimiter creates a distributed limiter.
func NewRedisLimiter(client *redis.Client, prefix string, rates map[string]float64, def float64) *RedisLimiter {
	if prefix == "" {
		prefix = "sentinel:ratelimit"
	}
	if def <= 0 {
		def = DefaultRate
	}
	if rates == nil {
		rates = DefaultRates()
	}
	return &RedisLimiter{client: client, prefix: prefix, rates: rates, def: def}
}

func (l *RedisLimiter) interval(class string) time.Duration {
	return time.Duration(float64(time.Second) / rateFor(l.rates, l.def, class))
}

// Acquire blocks until this process wins the slot for class.
func (l *RedisLimiter) Acquire(ctx context.Context, class string) error {
	key := fmt.Sprintf("%s:%s", l.prefix, class)
	interval := l.interval(class)
	for {
		ok, err := l.client.SetNX(ctx, key, "1", interval).Result()
		if err != nil {
			return fmt.Errorf("acquire %s: %w", class, err)
		}
		if ok {
			return nil
		}
		wait, err := l.client.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("acquire %s: %w", class, err)
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

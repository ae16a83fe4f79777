// Package quota implements the opt-in org-daily-token accounting hook
// (SPEC_FULL.md §C.4). It sits outside the core admission contract: the
// gateway's admit/reject decision never depends on it, only its bookkeeping
// does.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Accountant records token usage per client identity. The core gateway
// calls RecordUsage after a completed request; nothing reads the result
// back into the admission path.
type Accountant interface {
	RecordUsage(ctx context.Context, key string, tokens int64) error
	Close() error
}

// NoopAccountant discards usage. It is the default when QUOTA_REDIS_ADDR is
// unset, keeping the no-persisted-state invariant (spec.md §6) intact for
// deployments that don't opt into quota accounting.
type NoopAccountant struct{}

// RecordUsage implements Accountant.
func (NoopAccountant) RecordUsage(context.Context, string, int64) error { return nil }

// Close implements Accountant.
func (NoopAccountant) Close() error { return nil }

// RedisAccountant keeps a per-org, per-UTC-day token counter in Redis,
// grounded on the teacher's go-redis v9 adapter pattern.
type RedisAccountant struct {
	rdb *redis.Client
}

// NewRedisAccountant connects to addr/db and verifies connectivity.
func NewRedisAccountant(addr, password string, db int) (*RedisAccountant, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("quota: redis ping failed (%s): %w", addr, err)
	}

	slog.Info("quota accountant connected", "addr", addr, "db", db)
	return &RedisAccountant{rdb: rdb}, nil
}

// RecordUsage adds tokens to key's counter for the current UTC day, with a
// 48h TTL so stale counters don't accumulate forever.
func (a *RedisAccountant) RecordUsage(ctx context.Context, key string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	redisKey := dailyKey(key, time.Now().UTC())
	pipe := a.rdb.TxPipeline()
	pipe.IncrBy(ctx, redisKey, tokens)
	pipe.Expire(ctx, redisKey, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Usage returns the current day's accumulated token count for key.
func (a *RedisAccountant) Usage(ctx context.Context, key string) (int64, error) {
	val, err := a.rdb.Get(ctx, dailyKey(key, time.Now().UTC())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Close implements Accountant.
func (a *RedisAccountant) Close() error {
	return a.rdb.Close()
}

func dailyKey(orgKey string, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", orgKey, day.Format("2006-01-02"))
}

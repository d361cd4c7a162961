package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/orderflow/internal/core/domain"
)

// DeadLetterRepo implements storage.DeadLetterRepository using Redis.
type DeadLetterRepo struct {
	rdb    *redis.Client
	prefix string
}

// NewDeadLetterRepo creates a new Redis-backed dead-letter repository.
func NewDeadLetterRepo(client *Client, prefix string) *DeadLetterRepo {
	if prefix == "" {
		prefix = "orderflow"
	}
	return &DeadLetterRepo{
		rdb:    client.rdb,
		prefix: prefix,
	}
}

// Key helpers
func (r *DeadLetterRepo) indexKey() string {
	return fmt.Sprintf("%s:dead_letters", r.prefix)
}

func (r *DeadLetterRepo) recordKey(id string) string {
	return fmt.Sprintf("%s:dead_letter:%s", r.prefix, id)
}

// Save stores the record and indexes it by creation time.
func (r *DeadLetterRepo) Save(ctx context.Context, dl *domain.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.recordKey(dl.ID), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(dl.CreatedAt.UnixMilli()),
		Member: dl.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	if limit <= 0 {
		return nil, nil
	}

	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	records := make([]*domain.DeadLetter, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, r.recordKey(id)).Bytes()
		if err == redis.Nil {
			// Record gone but ID still indexed, remove it
			r.rdb.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get dead letter: %w", err)
		}

		var dl domain.DeadLetter
		if err := json.Unmarshal(data, &dl); err != nil {
			continue
		}
		records = append(records, &dl)
	}

	return records, nil
}

// Count returns the number of stored records.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

// DeleteOlderThan removes records created before threshold.
func (r *DeadLetterRepo) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	cutoff := strconv.FormatInt(threshold.UnixMilli()-1, 10)

	ids, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.recordKey(id))
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRemRangeByScore(ctx, r.indexKey(), "-inf", cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete dead letters: %w", err)
	}
	return len(ids), nil
}

package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sortedSetMax     = "+inf"
	historyKeyPrefix = "contact_history:"
)

// RedisHistory keeps a sliding recency index of contact submissions per
// client, in a sorted set of uuid members scored by submission time. It
// answers the abuse detector's volume query without touching SQL on the hot
// path and is shared by every instance pointed at the same redis.
//
// The index is an accelerator: the database remains the source of truth,
// so a flushed redis only widens the window until new submissions land.
type RedisHistory struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

// NewRedisHistory creates an index that retains window's worth of
// submissions per client key.
func NewRedisHistory(client *redis.Client, window time.Duration, now func() time.Time) *RedisHistory {
	if now == nil {
		now = time.Now
	}
	return &RedisHistory{client: client, window: window, now: now}
}

// RecordSubmission adds one submission at time at for clientKey, prunes
// members older than the retention window, and refreshes the key TTL.
func (h *RedisHistory) RecordSubmission(ctx context.Context, clientKey string, at time.Time) error {
	key := historyKeyPrefix + clientKey
	cutoff := at.Add(-h.window)

	p := h.client.Pipeline()
	p.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixMilli(), 10))
	p.ZAdd(ctx, key, redis.Z{
		Member: uuid.New().String(),
		Score:  float64(at.UnixMilli()),
	})
	p.Expire(ctx, key, h.window)
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("recording submission for %s: %w", clientKey, err)
	}
	return nil
}

// CountSubmissionsSince counts recorded submissions from clientKey at or
// after since. Satisfies the admission layer's SubmissionHistory.
func (h *RedisHistory) CountSubmissionsSince(ctx context.Context, clientKey string, since time.Time) (int64, error) {
	key := historyKeyPrefix + clientKey
	n, err := h.client.ZCount(ctx, key, strconv.FormatInt(since.UnixMilli(), 10), sortedSetMax).Result()
	if err != nil {
		return 0, fmt.Errorf("counting submissions for %s: %w", clientKey, err)
	}
	return n, nil
}

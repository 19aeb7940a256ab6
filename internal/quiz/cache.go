package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps JSON-encoded quiz snapshots in Redis. It only lives on
// the server side; snapshots include answer keys and must never be written to
// a response as-is.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func snapshotKey(quizID int64) string {
	return fmt.Sprintf("quiz:snapshot:%d", quizID)
}

func (c *SnapshotCache) Get(ctx context.Context, quizID int64) (*Quiz, bool, error) {
	raw, err := c.rdb.Get(ctx, snapshotKey(quizID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var q Quiz
	if err := json.Unmarshal(raw, &q); err != nil {
		// Treat a corrupt entry as a miss and drop it.
		_ = c.rdb.Del(ctx, snapshotKey(quizID)).Err()
		return nil, false, nil
	}
	return &q, true, nil
}

func (c *SnapshotCache) Set(ctx context.Context, q *Quiz) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(q.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// InvalidateQuiz drops the snapshot after an authoring write.
func (c *SnapshotCache) InvalidateQuiz(ctx context.Context, quizID int64) error {
	if err := c.rdb.Del(ctx, snapshotKey(quizID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

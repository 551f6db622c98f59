package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindow implements a sliding-window counter over a Redis sorted set.
// Used to throttle the public payment and contact endpoints per client IP.
type SlidingWindow struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewSlidingWindow(rdb *redis.Client, prefix string, limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Allow records one hit for the key and reports whether it is within the
// configured limit. The second return value is the remaining allowance.
func (s *SlidingWindow) Allow(ctx context.Context, key string) (bool, int, error) {
	now := time.Now()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())
	redisKey := s.prefix + ":" + key
	cutoff := now.Add(-s.window).UnixNano()

	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, s.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	count := int(countCmd.Val())
	remaining := s.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= s.limit, remaining, nil
}

// Window exposes the configured window, used to compute Retry-After.
func (s *SlidingWindow) Window() time.Duration { return s.window }

// Limit exposes the configured limit, surfaced in response headers.
func (s *SlidingWindow) Limit() int { return s.limit }

package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
)

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}

// RateLimiter is a Redis sliding-window limiter for the admin API. When Redis
// is unreachable every request is allowed.
type RateLimiter struct {
	redis  redis.Cmdable
	limit  int
	window time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig, client redis.Cmdable, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		limit:  cfg.Requests,
		window: cfg.Window,
		logger: logger,
		now:    time.Now,
	}
}

func (rl *RateLimiter) Allow(ctx context.Context, subject, action string) (bool, *RateLimitInfo) {
	key := fmt.Sprintf("rate_limit:%s:%s", action, subject)
	now := rl.now()
	windowStart := now.Add(-rl.window)
	info := &RateLimitInfo{
		Limit:     rl.limit,
		Remaining: rl.limit - 1,
		ResetTime: now.Add(rl.window).Unix(),
	}

	pipe := rl.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.WithError(err).WithField("key", key).Warn("Rate limit check failed, allowing request")
		return true, info
	}

	current := int(countCmd.Val())
	info.Remaining = rl.limit - current - 1
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return current < rl.limit, info
}

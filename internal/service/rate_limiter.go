package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/plantlink/garden-relay-go/internal/redis"
)

// slidingWindowScript keeps one sorted-set member per accepted hit inside
// the window. Returns {allowed, resetAtUnix}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if #oldest >= 2 then
        return {0, tonumber(oldest[2]) + window}
    end
    return {0, now + window}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)
return {1, now + window}
`)

// RateLimiter is a Redis sliding-window limiter shared by the message router
// and the /ws upgrade limiter.
type RateLimiter struct {
	client   redis.Scripter
	failOpen bool
}

// NewRateLimiter builds a limiter. With failOpen set, a Redis outage lets
// traffic through instead of rejecting every request.
func NewRateLimiter(client redis.Scripter, failOpen bool) *RateLimiter {
	return &RateLimiter{client: client, failOpen: failOpen}
}

func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now().Unix()

	result, err := slidingWindowScript.Run(
		ctx,
		rl.client,
		[]string{redisclient.RateLimitKey(key)},
		now,
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err == nil && len(result) != 2 {
		log.Warn().Str("key", key).Int("len", len(result)).Msg("unexpected rate limit result")
		err = redis.Nil
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Bool("failOpen", rl.failOpen).
			Msg("rate limit check failed")
		return rl.failOpen, time.Now().Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}

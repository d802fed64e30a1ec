package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims, counts and conditionally adds in one round trip.
// Scores are unix microseconds.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, math.ceil(window / 1000))
  count = count + 1
  allowed = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then first = tonumber(oldest[2]) end
return {allowed, count, first}
`)

// Redis shares windows across server instances.
type Redis struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedis(client redis.Scripter) *Redis {
	return &Redis{client: client, prefix: "taskgate:ratelimit:", now: time.Now}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis sliding window %s: unexpected reply length %d", key, len(res))
	}

	count := int(res[1])
	resetAt := time.UnixMicro(res[2]).Add(window)
	if res[0] == 1 {
		return &Result{Allowed: true, Limit: limit, Remaining: limit - count, ResetAt: resetAt}, nil
	}
	return &Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(now, resetAt),
	}, nil
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills against the Redis server clock so all replicas
// agree on elapsed time. Returns {allowed, whole tokens left, wait ms}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local elapsed = now - ts
  if elapsed < 0 then
    elapsed = 0
  end
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
  ts = now
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), wait}
`

// Decision is the outcome of asking the bucket for one token.
type Decision struct {
	Allowed bool
	// Limit is the bucket capacity.
	Limit int
	// Remaining counts whole tokens left after this call. -1 means
	// unknown, reported when the limiter failed open.
	Remaining int
	// RetryAfter is how long until a token refills. Zero when allowed.
	RetryAfter time.Duration
}

// TokenBucket is a Redis-scripted token bucket shared by all replicas.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow takes one token from the bucket at key, refilling at rate tokens
// per second up to burst.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, errors.New("token bucket not configured")
	}
	if key == "" {
		return Decision{}, errors.New("token bucket key is empty")
	}
	if rate <= 0 {
		return Decision{}, errors.New("token bucket rate must be positive")
	}
	if burst <= 0 {
		return Decision{}, errors.New("token bucket burst must be positive")
	}

	ttl := bucketTTL(rate, burst)
	res, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("token bucket script returned %d values", len(res))
	}

	return Decision{
		Allowed:    scriptInt(res[0]) == 1,
		Limit:      burst,
		Remaining:  int(scriptInt(res[1])),
		RetryAfter: time.Duration(scriptInt(res[2])) * time.Millisecond,
	}, nil
}

// bucketTTL keeps idle buckets alive long enough to refill twice over, so
// a returning tenant starts full without Redis hoarding dead keys.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// scriptInt reads a Lua integer reply. Redis hands numbers back as int64
// but values can arrive as strings depending on the reply path.
func scriptInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}

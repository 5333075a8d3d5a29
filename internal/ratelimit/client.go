package ratelimit

import (
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/sendora/internal/config"
)

// NewRedisClient dials the Redis shared by the send limiter and the
// scheduler leases. Returns nil when rate limiting is disabled so both
// consumers fall back to their pass-through behavior.
func NewRedisClient(cfg config.Config) (*redis.Client, error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(rl.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(rl.RedisPassword),
		DB:       rl.RedisDB,
	}), nil
}

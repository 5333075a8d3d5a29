package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "sendora:sched:"

// leaseReleaseScript deletes the lease only while we still hold it, so a
// slow job cannot release a lease another replica re-acquired.
const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Leases hands out single-holder job leases so only one replica runs a
// given scheduler job at a time. A nil Leases (Redis disabled) grants
// every acquire, which is correct for single-replica deployments.
type Leases struct {
	client *redis.Client
	script *redis.Script
}

func NewLeases(client *redis.Client) *Leases {
	if client == nil {
		return nil
	}
	return &Leases{
		client: client,
		script: redis.NewScript(leaseReleaseScript),
	}
}

// Lease is a held job lease. The zero value releases to a no-op.
type Lease struct {
	key   string
	token string
	store *Leases
}

// Acquire takes the lease for job, expiring after ttl. ok reports whether
// this replica holds it; false with a nil error means another holder.
func (s *Leases) Acquire(ctx context.Context, job string, ttl time.Duration) (*Lease, bool, error) {
	if s == nil || s.client == nil {
		return nil, true, nil
	}
	job = strings.TrimSpace(job)
	if job == "" {
		return nil, false, errors.New("lease job name is empty")
	}
	if ttl <= 0 {
		return nil, false, errors.New("lease ttl must be positive")
	}

	key := leaseKeyPrefix + job
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{key: key, token: token, store: s}, true, nil
}

// Release gives the lease back early. Safe on nil and on expired leases.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.store == nil || l.store.client == nil {
		return nil
	}
	return l.store.script.Run(ctx, l.store.client, []string{l.key}, l.token).Err()
}

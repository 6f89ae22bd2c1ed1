package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/v1siuol/trafficserver/pkg/nexthop"
	"github.com/v1siuol/trafficserver/pkg/telemetry/log"
)

// RedisStore shares host status across a fleet of proxy processes. It is
// only eventually consistent between MarkDown/MarkUp on one process and
// IsAvailable on another. Every call is a single round trip and never
// blocks the selection path for longer than the configured timeout; on
// any Redis error IsAvailable fails open (treats the host as available)
// rather than taking the whole fleet down on a cache blip.
type RedisStore struct {
	cli     *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore wraps an existing client. keyPrefix namespaces keys so
// multiple strategies sharing a Redis instance do not collide.
func NewRedisStore(cli *redis.Client, keyPrefix string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RedisStore{cli: cli, prefix: keyPrefix, timeout: timeout}
}

func (r *RedisStore) key(hostname string) string {
	return r.prefix + "nexthop:down:" + hostname
}

func (r *RedisStore) IsAvailable(hostname string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.cli.Exists(ctx, r.key(hostname)).Result()
	if err != nil {
		log.Warnf("health: redis Exists(%s) failed, failing open: %v", hostname, err)
		return true
	}
	return n == 0
}

func (r *RedisStore) MarkDown(hostname string, reason nexthop.Reason) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.cli.Set(ctx, r.key(hostname), string(reason), 0).Err(); err != nil {
		log.Warnf("health: redis MarkDown(%s) failed: %v", hostname, err)
	}
}

func (r *RedisStore) MarkUp(hostname string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.cli.Del(ctx, r.key(hostname)).Err(); err != nil {
		log.Warnf("health: redis MarkUp(%s) failed: %v", hostname, err)
	}
}

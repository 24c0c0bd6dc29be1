package leader

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const releaseScript = `
    if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("DEL", KEYS[1])
    else
        return 0
    end
`

const extendScript = `
    if redis.call("GET", KEYS[1]) == ARGV[1] then
        return redis.call("PEXPIRE", KEYS[1], ARGV[2])
    else
        return 0
    end
`

// RedisLeaderElection holds a lease on key. The holder must extend it before
// ttl runs out or another instance can take over.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLeaderElection(client *redis.Client, key string, ttl time.Duration) *RedisLeaderElection {
	return &RedisLeaderElection{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	return r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}

	return currentLeader == instanceID, nil
}

// ExtendLeadership refreshes the lease only if instanceID still holds it.
func (r *RedisLeaderElection) ExtendLeadership(ctx context.Context, instanceID string) (bool, error) {
	result, err := r.client.Eval(ctx, extendScript, []string{r.key},
		instanceID, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	return r.client.Eval(ctx, releaseScript, []string{r.key}, instanceID).Err()
}
